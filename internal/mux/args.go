// SPDX-License-Identifier: MIT
package mux

import "strings"

// remuxArgs builds the copy-only fast-start pass. The moov atom moves to
// the front so playback can start before the file finishes downloading.
func remuxArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

// subtitleArgs builds the subtitle embed pass: video and audio are copied,
// the subtitle stream is encoded as ass for ASS input and mov_text for
// everything else.
func subtitleArgs(videoPath, subtitlePath, language, outputPath string) []string {
	codec := "mov_text"
	if strings.HasSuffix(strings.ToLower(subtitlePath), ".ass") {
		codec = "ass"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-i", subtitlePath,
		"-map", "0:v",
		"-map", "0:a",
		"-map", "1:0",
		"-c:v", "copy",
		"-c:a", "copy",
		"-c:s", codec,
		"-movflags", "+faststart",
	}
	if language != "" {
		args = append(args, "-metadata:s:s:0", "language="+language)
	}
	return append(args, "-y", outputPath)
}
