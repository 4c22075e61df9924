package depmanager

import (
	"strings"

	"tubefetch/internal/config"
)

// Archive is the packaging of a downloaded artifact.
type Archive string

// Artifact packagings.
const (
	ArchiveNone  Archive = ""
	ArchiveZip   Archive = "zip"
	ArchiveTarXZ Archive = "tar.xz"
	ArchiveTarGZ Archive = "tar.gz"
)

// minBinarySize rejects error pages and truncated artifacts saved in place of a binary.
const minBinarySize = 1 << 20

// Source describes where a tool comes from on one platform.
type Source struct {
	URL     string
	Archive Archive
	// Members are the file basenames installed from the artifact. For a bare binary
	// it holds the single installed filename.
	Members []string
	// MinSize is the smallest acceptable size of every installed member.
	MinSize int64
}

// Sources maps a tool and an "os/arch" key to its download source.
type Sources map[BinaryName]map[string]Source

// DefaultSources builds the platform table from the configured release mirrors.
func DefaultSources(cfg config.DepManager) Sources {
	ytdlp := withSlash(cfg.YTdlpBaseURL)
	ffmpeg := withSlash(cfg.FFmpegBaseURL)
	deno := withSlash(cfg.DenoBaseURL)

	raw := func(url, name string) Source {
		return Source{URL: url, Members: []string{name}, MinSize: minBinarySize}
	}

	archived := func(url string, kind Archive, members ...string) Source {
		return Source{URL: url, Archive: kind, Members: members, MinSize: minBinarySize}
	}

	return Sources{
		BinaryYTdlp: {
			"darwin/arm64":  raw(ytdlp+"yt-dlp_macos", "yt-dlp"),
			"darwin/amd64":  raw(ytdlp+"yt-dlp_macos", "yt-dlp"),
			"linux/arm64":   raw(ytdlp+"yt-dlp_linux_aarch64", "yt-dlp"),
			"linux/amd64":   raw(ytdlp+"yt-dlp_linux", "yt-dlp"),
			"windows/amd64": raw(ytdlp+"yt-dlp.exe", "yt-dlp.exe"),
			"windows/arm64": raw(ytdlp+"yt-dlp_arm64.exe", "yt-dlp.exe"),
		},
		BinaryFFmpeg: {
			// evermeet ships ffmpeg alone; ffprobe is not provisioned on macOS.
			"darwin/arm64":  archived(cfg.FFmpegMacURL, ArchiveZip, "ffmpeg"),
			"darwin/amd64":  archived(cfg.FFmpegMacURL, ArchiveZip, "ffmpeg"),
			"linux/arm64":   archived(ffmpeg+"ffmpeg-master-latest-linuxarm64-gpl.tar.xz", ArchiveTarXZ, "ffmpeg", "ffprobe"),
			"linux/amd64":   archived(ffmpeg+"ffmpeg-master-latest-linux64-gpl.tar.xz", ArchiveTarXZ, "ffmpeg", "ffprobe"),
			"windows/amd64": archived(ffmpeg+"ffmpeg-master-latest-win64-gpl.zip", ArchiveZip, "ffmpeg.exe", "ffprobe.exe"),
		},
		BinaryDeno: {
			"darwin/arm64":  archived(deno+"deno-aarch64-apple-darwin.zip", ArchiveZip, "deno"),
			"darwin/amd64":  archived(deno+"deno-x86_64-apple-darwin.zip", ArchiveZip, "deno"),
			"linux/arm64":   archived(deno+"deno-aarch64-unknown-linux-gnu.zip", ArchiveZip, "deno"),
			"linux/amd64":   archived(deno+"deno-x86_64-unknown-linux-gnu.zip", ArchiveZip, "deno"),
			"windows/amd64": archived(deno+"deno-x86_64-pc-windows-msvc.zip", ArchiveZip, "deno.exe"),
		},
	}
}

// fallbackCommands lists the package manager invocation per tool and OS.
var fallbackCommands = map[string]map[BinaryName][]string{
	platformDarwin: {
		BinaryYTdlp:  {"brew", "install", "yt-dlp"},
		BinaryFFmpeg: {"brew", "install", "ffmpeg"},
		BinaryDeno:   {"brew", "install", "deno"},
	},
	platformLinux: {
		BinaryYTdlp:  {"apt-get", "install", "-y", "yt-dlp"},
		BinaryFFmpeg: {"apt-get", "install", "-y", "ffmpeg"},
	},
	platformWindows: {
		BinaryYTdlp:  {"winget", "install", "--id", "yt-dlp.yt-dlp", "-e", "--silent"},
		BinaryFFmpeg: {"winget", "install", "--id", "Gyan.FFmpeg", "-e", "--silent"},
		BinaryDeno:   {"winget", "install", "--id", "DenoLand.Deno", "-e", "--silent"},
	},
}

func withSlash(base string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base
	}

	return base + "/"
}
