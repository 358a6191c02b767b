//go:build windows

package process

func getProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	return createTimeUnix(pid)
}
