package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"tubefetch/internal/depmanager"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/format"
	"tubefetch/internal/token"
	"tubefetch/pkg/urls"
)

const (
	toolYTdlp = string(depmanager.BinaryYTdlp)

	maxLineSize   = 1024 * 1024 // 1 MiB scanner buffer
	bufSize       = 4096        // 4 KiB initial buffer
	stderrLines   = 5
	audioFallback = "m4a"
	audioDirect   = "mp3"

	// tempPrefix starts the name of every file a job writes before finalizing.
	tempPrefix = ".tubefetch-"
)

// tools holds the binaries and environment resolved for one operation.
type tools struct {
	ytdlp  string
	ffmpeg string
	dir    string
}

// resolveTools reads the tools directory afresh; the setting may change between jobs.
func (e *Engine) resolveTools() (tools, error) {
	dir, err := e.bins.ToolsDir()
	if err != nil {
		return tools{}, fmt.Errorf("tools dir: %w", err)
	}

	ytdlp, err := e.bins.BinaryPath(depmanager.BinaryYTdlp)
	if err != nil {
		return tools{}, fmt.Errorf("yt-dlp path: %w", err)
	}

	if _, err := os.Stat(ytdlp); err != nil {
		return tools{}, fmt.Errorf("%w: %s", errs.ErrBinaryNotFound, ytdlp)
	}

	t := tools{ytdlp: ytdlp, dir: dir}

	if ffmpeg, err := e.bins.BinaryPath(depmanager.BinaryFFmpeg); err == nil {
		if _, err := os.Stat(ffmpeg); err == nil {
			t.ffmpeg = ffmpeg
		}
	}

	return t, nil
}

// env puts the tools directory first on PATH so yt-dlp finds deno and ffprobe.
func (t tools) env() []string {
	env := os.Environ()
	env = append(env,
		"PATH="+t.dir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"DENO_DIR="+filepath.Join(t.dir, depmanager.DenoCacheDirName),
	)

	return env
}

func (e *Engine) commonArgs() []string {
	var args []string

	if e.cfg.Dir.Cache != "" {
		args = append(args, "--cache-dir", e.cfg.Dir.Cache)
	}

	if e.cfg.Dir.CookieFile != "" {
		args = append(args, "--cookies", e.cfg.Dir.CookieFile)
	}

	return args
}

// describe runs `yt-dlp -J` for source. It is the function behind the info cache.
func (e *Engine) describe(ctx context.Context, source string, tok *token.Token) (*entity.Description, error) {
	t, err := e.resolveTools()
	if err != nil {
		return nil, err
	}

	args := []string{"-J", "--no-playlist", "--no-warnings", "--no-progress"}
	args = append(args, e.commonArgs()...)
	args = append(args, source)

	stdout, err := e.runProcess(ctx, tok, procSpec{
		role: token.RoleDescribe,
		bin:  t.ytdlp,
		args: args,
		env:  t.env(),
	})
	if err != nil {
		var subErr *errs.SubprocessError
		if errors.As(err, &subErr) && requiresAuthorization(subErr.Stderr) {
			return nil, &errs.AuthorizationRequiredError{Source: source, Guidance: authGuidance}
		}

		return nil, err
	}

	desc, err := ParseDescription(stdout)
	if err != nil {
		return nil, &errs.SubprocessError{Tool: toolYTdlp, Role: string(token.RoleDescribe), Err: err}
	}

	return desc, nil
}

// plan is a fetch invocation derived from a selection.
type plan struct {
	selection  format.Selection
	formatArgs []string
	role       token.Role
	segments   int
	label      string
	ext        string
}

// isDirectAudioSource reports sources whose audio is best taken by letting
// yt-dlp extract and transcode it, as they expose no stable audio-only ids.
func isDirectAudioSource(source string, desc *entity.Description) bool {
	if strings.HasSuffix(urls.Host(source), "soundcloud.com") {
		return true
	}

	return desc != nil && strings.HasPrefix(strings.ToLower(desc.Extractor), "soundcloud")
}

func (e *Engine) buildPlan(source string, desc *entity.Description, target format.Target) (plan, error) {
	if target.Kind == format.KindAudio && isDirectAudioSource(source, desc) {
		return plan{
			selection:  format.Selection{Resolution: "audio", AudioFormat: "bestaudio", AudioExt: audioDirect},
			formatArgs: []string{"-f", "bestaudio", "-x", "--audio-format", audioDirect},
			role:       token.RoleAudio,
			segments:   1,
			label:      "audio",
			ext:        audioDirect,
		}, nil
	}

	sel, err := format.Select(desc.Formats, target, e.prefs)
	if err != nil {
		return plan{}, err
	}

	p := plan{
		selection:  sel,
		formatArgs: []string{"-f", sel.FormatSpec()},
		segments:   1,
		label:      sel.Resolution,
		ext:        sel.OutputExt(),
	}

	switch {
	case target.Kind == format.KindAudio && sel.Muxed:
		// only combined streams exist; keep the audio track
		p.formatArgs = append(p.formatArgs, "-x", "--audio-format", audioFallback)
		p.role = token.RoleAudio
		p.ext = audioFallback
	case sel.Split():
		p.formatArgs = append(p.formatArgs, "--merge-output-format", p.ext)
		p.role = token.RoleMerge
		p.segments = 2
	case sel.VideoFormat != "":
		p.role = token.RoleVideo
	default:
		p.role = token.RoleAudio
	}

	return p, nil
}

// fetchArgs builds the full yt-dlp command line writing to the job's temp template.
func (e *Engine) fetchArgs(p plan, t tools, outDir, jobID, source string) []string {
	args := []string{"--newline", "--progress", "--no-playlist", "--force-overwrites", "--no-mtime"}
	args = append(args, p.formatArgs...)

	if t.ffmpeg != "" {
		args = append(args, "--ffmpeg-location", t.ffmpeg)
	}

	args = append(args, e.commonArgs()...)
	args = append(args, "-o", filepath.Join(outDir, tempPrefix+jobID+".%(ext)s"), source)

	return args
}

type procSpec struct {
	role token.Role
	bin  string
	args []string
	env  []string
	// onLine receives stdout line by line; when nil stdout is returned whole.
	onLine func(string)
}

// runProcess starts a subprocess, registers it in the token under its role
// and waits for it. The role slot is freed once the process has exited.
func (e *Engine) runProcess(ctx context.Context, tok *token.Token, spec procSpec) ([]byte, error) {
	if err := cancellation(ctx, tok); err != nil {
		return nil, err
	}

	log := e.log.With(slog.String("role", string(spec.role)))

	cmd := exec.CommandContext(ctx, spec.bin, spec.args...)
	cmd.Env = spec.env
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = e.cfg.Job.StopGracePeriod

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var (
		out      bytes.Buffer
		lines    *lineScanner
		scanDone chan struct{}
	)

	if spec.onLine != nil {
		lines = newLineScanner(log, spec.onLine)
		cmd.Stdout = lines.w
		scanDone = make(chan struct{})

		go func() {
			defer close(scanDone)
			lines.run()
		}()
	} else {
		cmd.Stdout = &out
	}

	// stopScan must run once the process output is fully copied.
	stopScan := func() {
		if lines != nil {
			_ = lines.w.Close()
			<-scanDone
		}
	}

	log.DebugContext(ctx, "starting subprocess", slog.Any("command", command{bin: spec.bin, args: spec.args}))

	if err := cmd.Start(); err != nil {
		stopScan()
		e.metrics.RecordSubprocess(string(spec.role), "start_error")

		return nil, &errs.SubprocessError{Tool: toolYTdlp, Role: string(spec.role), Err: err}
	}

	done := make(chan struct{})
	if err := tok.SetProcess(spec.role, cmd.Process, done); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()

		stopScan()
		close(done)

		return nil, err
	}

	waitErr := cmd.Wait()

	stopScan()
	close(done)
	tok.ClearProcess(spec.role)

	if waitErr != nil {
		if err := cancellation(ctx, tok); err != nil {
			e.metrics.RecordSubprocess(string(spec.role), "cancelled")
			log.InfoContext(ctx, "subprocess stopped", slog.Any("reason", err))

			return nil, err
		}

		exitCode := -1

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		e.metrics.RecordSubprocess(string(spec.role), "failed")
		log.ErrorContext(ctx, "subprocess failed",
			slog.Int("exit_code", exitCode),
			slog.String("stderr", lastLines(stderr.String(), stderrLines)))

		return nil, &errs.SubprocessError{
			Tool:     toolYTdlp,
			Role:     string(spec.role),
			ExitCode: exitCode,
			Stderr:   lastLines(stderr.String(), stderrLines),
			Err:      waitErr,
		}
	}

	e.metrics.RecordSubprocess(string(spec.role), "ok")

	if spec.onLine != nil {
		return nil, nil
	}

	return out.Bytes(), nil
}

// lineScanner feeds process output to a callback line by line.
type lineScanner struct {
	log    *slog.Logger
	r      *io.PipeReader
	w      *io.PipeWriter
	onLine func(string)
}

func newLineScanner(log *slog.Logger, onLine func(string)) *lineScanner {
	r, w := io.Pipe()

	return &lineScanner{log: log, r: r, w: w, onLine: onLine}
}

func (s *lineScanner) run() {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, bufSize), maxLineSize)
	scanner.Split(splitLinesAny)

	for scanner.Scan() {
		s.onLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		s.log.Warn("scan stdout", slog.Any("error", err))
	}

	// keep draining so the writer never blocks
	_, _ = io.Copy(io.Discard, s.r)
}

// terminate asks a process to exit. Windows has no SIGTERM, so it is killed outright.
func terminate(p token.Process) error {
	if p == nil {
		return nil
	}

	if runtime.GOOS == "windows" {
		return p.Kill()
	}

	return p.Signal(syscall.SIGTERM)
}

// cancellation returns a CancellationError when the token or ctx has been stopped.
func cancellation(ctx context.Context, tok *token.Token) error {
	if err := tok.Err(); err != nil {
		return err
	}

	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	if errs.IsCancelled(cause) {
		return cause
	}

	return &errs.CancellationError{Reason: cause.Error()}
}
