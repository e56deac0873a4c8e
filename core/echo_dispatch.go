package core

// The interrupt vectors take no arguments, so the target's ISRs reach the
// echo timer through this one pointer. Nothing else in core reads it.
var activeEcho *EchoTimer

// InstallEchoTimer makes e the target of CompareMatchISR and CaptureISR.
func InstallEchoTimer(e *EchoTimer) {
	state := disableInterrupts()
	activeEcho = e
	restoreInterrupts(state)
}

// ActiveEchoTimer returns the installed echo timer, or nil
func ActiveEchoTimer() *EchoTimer {
	return activeEcho
}

// CompareMatchISR is called from the timer compare-match vector
func CompareMatchISR() {
	if e := activeEcho; e != nil {
		e.CompareMatch()
	}
}

// CaptureISR is called from the timer input-capture vector
func CaptureISR() {
	if e := activeEcho; e != nil {
		e.Capture(e.timer.CaptureValue())
	}
}
