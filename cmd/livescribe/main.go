// Command livescribe records speech from a microphone or a Discord voice
// channel and transcribes it live or in batch, and transcribes audio and
// video files. Transcripts are exported as SRT or plain text.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
