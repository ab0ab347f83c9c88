package serialmux

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestOpenSerialMux_UsesFactory(t *testing.T) {
	port := blockingPort()
	factory := NewMockSerialPortFactory(port)

	mux, err := OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{Parity: "E"})
	if err != nil {
		t.Fatalf("OpenSerialMux: %v", err)
	}
	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyACM0" {
		t.Fatalf("unexpected open call %+v", call)
	}
	if call.Mode.BaudRate != DefaultBaudRate || call.Mode.Parity != EvenParity {
		t.Errorf("mode = %+v", call.Mode)
	}
	if err := mux.SendCommand("PING"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if string(port.GetWrittenData()) != "PING\n" {
		t.Errorf("written = %q", port.GetWrittenData())
	}
}

func TestOpenSerialMux_Errors(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("no such device")
	if _, err := OpenSerialMux(factory, "/dev/null0", PortOptions{}); err == nil {
		t.Error("expected factory error")
	}
	if _, err := OpenSerialMux(factory, "/dev/null0", PortOptions{StopBits: 5}); err == nil {
		t.Error("expected options error")
	}
	if len(factory.OpenCalls) != 1 {
		t.Errorf("invalid options should not reach the factory, got %d calls", len(factory.OpenCalls))
	}
}

func TestRealSerialPortFactory_InvalidPath(t *testing.T) {
	if _, err := NewRealSerialPortFactory().Open("/dev/does-not-exist-gridloc", nil); err == nil {
		t.Error("expected error opening a missing device")
	}
}

func TestConvertParityAndStopBits(t *testing.T) {
	if convertParity(NoParity) != serial.NoParity || convertParity(OddParity) != serial.OddParity || convertParity(EvenParity) != serial.EvenParity {
		t.Error("parity conversion mismatch")
	}
	if convertStopBits(OneStopBit) != serial.OneStopBit || convertStopBits(TwoStopBits) != serial.TwoStopBits {
		t.Error("stop bit conversion mismatch")
	}
}
