package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDInfo is the content of a PID file: the PID on the first line and a
// JSON object describing the launch on the second.
type PIDInfo struct {
	PID       int    `json:"-"`
	Name      string `json:"name"`
	Command   string `json:"command"`
	StartUnix int64  `json:"start_unix,omitempty"`
}

// WritePIDFile atomically writes info to path.
func WritePIDFile(path string, info PIDInfo) error {
	meta, err := json.Marshal(info)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pid-*")
	if err != nil {
		return err
	}
	body := strconv.Itoa(info.PID) + "\n" + string(meta) + "\n"
	if _, err := tmp.WriteString(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadPIDFile reads a PID file written by WritePIDFile. Files holding only
// a PID are accepted; their metadata is left empty.
func ReadPIDFile(path string) (PIDInfo, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDInfo{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return PIDInfo{}, fmt.Errorf("pid file %s: %w", path, err)
	}
	var info PIDInfo
	if rest = strings.TrimSpace(rest); rest != "" {
		_ = json.Unmarshal([]byte(rest), &info)
	}
	info.PID = pid
	return info, nil
}

// Alive reports whether the recorded process still exists. When a start
// time was recorded it must match, so a recycled PID is not mistaken for
// the recorded child.
func (i PIDInfo) Alive() bool {
	if i.PID <= 0 || !pidAlive(i.PID) {
		return false
	}
	if i.StartUnix == 0 {
		return true
	}
	now := getProcStartUnix(i.PID)
	if now == 0 {
		return true
	}
	d := now - i.StartUnix
	return d >= -1 && d <= 1
}

// checkPIDFile returns ErrAlreadyRunning when path names a live process and
// removes the file when it is stale.
func checkPIDFile(path string) error {
	if path == "" {
		return nil
	}
	info, err := ReadPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && info.Alive() {
		return fmt.Errorf("%w (pid %d from %s)", ErrAlreadyRunning, info.PID, path)
	}
	_ = os.Remove(path)
	return nil
}

// removePIDFile deletes path only if it still records pid.
func removePIDFile(path string, pid int) {
	if path == "" {
		return
	}
	if info, err := ReadPIDFile(path); err == nil && info.PID == pid {
		_ = os.Remove(path)
	}
}
