//go:build windows

package fileutil

import (
	"fmt"
	"path/filepath"
	"syscall"
	"unsafe"
)

var procSHFileOperation = syscall.NewLazyDLL("shell32.dll").NewProc("SHFileOperationW")

// SHFILEOPSTRUCTW
// https://learn.microsoft.com/en-us/windows/win32/api/shellapi/ns-shellapi-shfileopstructw
type fileOp struct {
	hwnd          uintptr
	wFunc         uint32
	pFrom         *uint16
	pTo           *uint16
	fFlags        uint16
	aborted       int32
	nameMappings  uintptr
	progressTitle *uint16
}

const (
	opDelete = 0x3

	flagSilent    = 0x4
	flagNoConfirm = 0x10
	flagAllowUndo = 0x40
	flagNoErrorUI = 0x400
	recycleFlags  = flagAllowUndo | flagNoConfirm | flagSilent | flagNoErrorUI
)

// moveToTrash sends src to the Recycle Bin
func moveToTrash(src string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	// pFrom is a list terminated by an empty string
	from, err := syscall.UTF16FromString(abs)
	if err != nil {
		return err
	}
	from = append(from, 0)

	op := fileOp{wFunc: opDelete, pFrom: &from[0], fFlags: recycleFlags}
	if rc, _, _ := procSHFileOperation.Call(uintptr(unsafe.Pointer(&op))); rc != 0 {
		return fmt.Errorf("recycle %s: shell error 0x%x", abs, rc)
	}
	if op.aborted != 0 {
		return fmt.Errorf("recycle %s: aborted", abs)
	}
	return nil
}
