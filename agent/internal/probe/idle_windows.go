//go:build windows

package probe

import (
	"context"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modUser32            = windows.NewLazySystemDLL("user32.dll")
	modKernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procGetLastInputInfo = modUser32.NewProc("GetLastInputInfo")
	procGetTickCount     = modKernel32.NewProc("GetTickCount")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// idleSeconds reads the system-wide last-input timestamp via
// GetLastInputInfo and compares it against the current tick count.
func idleSeconds(ctx context.Context) int64 {
	var info lastInputInfo
	info.cbSize = uint32(unsafe.Sizeof(info))

	ret, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0
	}

	tick, _, _ := procGetTickCount.Call()
	elapsedMs := uint32(tick) - info.dwTime
	return int64(elapsedMs / 1000)
}
