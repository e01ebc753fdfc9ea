//go:build windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32DLL = windows.NewLazySystemDLL("user32.dll")

	procRegisterHotKey     = user32DLL.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32DLL.NewProc("UnregisterHotKey")
	procGetMessageW        = user32DLL.NewProc("GetMessageW")
	procTranslateMessage   = user32DLL.NewProc("TranslateMessage")
	procDispatchMessageW   = user32DLL.NewProc("DispatchMessageW")
	procPostThreadMessageW = user32DLL.NewProc("PostThreadMessageW")
	procPeekMessageW       = user32DLL.NewProc("PeekMessageW")
)

const (
	wmHotkey   = 0x0312
	wmQuit     = 0x0012
	wmApp      = 0x8000
	pmNoRemove = 0x0000

	loopStopTimeout = 2 * time.Second
)

// point mirrors the Win32 POINT struct.
type point struct {
	x int32
	y int32
}

// winMsg is MSG from winuser.h; the field layout is the ABI.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

type loopReady struct {
	threadID uint32
	err      error
}

// loopRequest is executed on the message loop thread. RegisterHotKey with a
// nil window binds to the calling thread's queue, so every (un)registration
// must run there.
type loopRequest struct {
	register bool
	hk       Hotkey
	done     chan error
}

// windowsBackend runs one message loop on a locked OS thread for all hotkeys.
type windowsBackend struct {
	trigger func(id uint32)

	mu       sync.Mutex
	threadID uint32
	requests chan loopRequest
	doneCh   chan struct{}
	closed   bool
}

// NewSystemBackend starts the Win32 hotkey message loop.
func NewSystemBackend(trigger func(id uint32)) (Backend, error) {
	if trigger == nil {
		return nil, errors.New("trigger callback is required")
	}
	// LazyProc.Call panics when the DLL is missing.
	if err := user32DLL.Load(); err != nil {
		return nil, fmt.Errorf("user32.dll is unavailable: %w", err)
	}

	b := &windowsBackend{
		trigger:  trigger,
		requests: make(chan loopRequest, 16),
		doneCh:   make(chan struct{}),
	}
	readyCh := make(chan loopReady, 1)
	go b.runLoop(readyCh)

	ready := <-readyCh
	if ready.err != nil {
		return nil, fmt.Errorf("start hotkey message loop: %w", ready.err)
	}
	if ready.threadID == 0 {
		return nil, errors.New("hotkey loop started but returned invalid thread ID 0")
	}
	b.threadID = ready.threadID
	return b, nil
}

func (b *windowsBackend) Register(hk Hotkey) error {
	return b.submit(loopRequest{register: true, hk: hk})
}

func (b *windowsBackend) Unregister(hk Hotkey) error {
	return b.submit(loopRequest{register: false, hk: hk})
}

func (b *windowsBackend) submit(req loopRequest) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("hotkey backend is closed")
	}
	req.done = make(chan error, 1)
	b.requests <- req
	threadID := b.threadID
	b.mu.Unlock()

	if err := postThreadMessage(threadID, wmApp); err != nil {
		return fmt.Errorf("wake hotkey message loop: %w", err)
	}
	select {
	case err := <-req.done:
		return err
	case <-b.doneCh:
		return errors.New("hotkey message loop exited")
	}
}

// Close stops the message loop. Hotkeys still bound are released by the loop on exit.
func (b *windowsBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	threadID := b.threadID
	b.mu.Unlock()

	stopErr := postThreadMessage(threadID, wmQuit)

	timer := time.NewTimer(loopStopTimeout)
	defer timer.Stop()

	select {
	case <-b.doneCh:
	case <-timer.C:
		slog.Warn("[hotkey] message loop did not stop", "thread", threadID)
		stopErr = errors.Join(stopErr, errors.New("hotkey message loop stop timed out"))
	}
	return stopErr
}

func (b *windowsBackend) runLoop(readyCh chan<- loopReady) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.doneCh)

	threadID := windows.GetCurrentThreadId()
	if threadID == 0 {
		readyCh <- loopReady{err: errors.New("GetCurrentThreadId returned 0")}
		return
	}

	// The thread gets a message queue on its first PeekMessageW; until then
	// PostThreadMessageW has nowhere to deliver.
	var qmsg winMsg
	ret, _, peekErr := procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)
	if ret == 0 && peekErr != syscall.Errno(0) {
		slog.Warn("[hotkey] queue init failed", "error", peekErr)
	}

	bound := make(map[uint32]struct{})
	defer func() {
		for id := range bound {
			if err := unregisterHotKey(id); err != nil {
				slog.Error("[hotkey] release on loop exit failed", "id", id, "error", err)
			}
		}
	}()

	readyCh <- loopReady{threadID: threadID}

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[hotkey] GetMessageW failed", "error", lastErr)
			return
		case 0:
			slog.Debug("[hotkey] message loop stopped")
			return
		}

		switch msg.message {
		case wmHotkey:
			id := uint32(msg.wParam)
			if _, ok := bound[id]; ok {
				go b.trigger(id)
			}
			continue
		case wmApp:
			b.drainRequests(bound)
			continue
		}

		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

func (b *windowsBackend) drainRequests(bound map[uint32]struct{}) {
	for {
		select {
		case req := <-b.requests:
			req.done <- applyRequest(req, bound)
		default:
			return
		}
	}
}

func applyRequest(req loopRequest, bound map[uint32]struct{}) error {
	if !req.register {
		if _, ok := bound[req.hk.ID]; !ok {
			return nil
		}
		delete(bound, req.hk.ID)
		return unregisterHotKey(req.hk.ID)
	}
	mods, key, err := win32Codes(req.hk.Shortcut)
	if err != nil {
		return err
	}
	if err := registerHotKey(req.hk.ID, uint32(mods), uint32(key)); err != nil {
		return err
	}
	bound[req.hk.ID] = struct{}{}
	return nil
}

func registerHotKey(id uint32, modifiers uint32, key uint32) error {
	res, _, err := procRegisterHotKey.Call(0, uintptr(id), uintptr(modifiers), uintptr(key))
	if res != 0 {
		return nil
	}
	if err == syscall.Errno(0) {
		return errors.New("RegisterHotKey failed")
	}
	return err
}

func unregisterHotKey(id uint32) error {
	res, _, err := procUnregisterHotKey.Call(0, uintptr(id))
	if res != 0 {
		return nil
	}
	if err == syscall.Errno(0) {
		return errors.New("UnregisterHotKey failed")
	}
	return err
}

func postThreadMessage(threadID uint32, message uint32) error {
	if threadID == 0 {
		return errors.New("cannot post thread message: threadID is 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), uintptr(message), 0, 0)
	if res != 0 {
		return nil
	}
	if err == syscall.Errno(0) {
		return errors.New("PostThreadMessageW failed")
	}
	return err
}
