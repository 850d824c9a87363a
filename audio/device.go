package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// SelectDevice runs an interactive picker over the available capture
// sources. A single available device is returned without prompting.
// Bluetooth sources are flagged: their voice-optimized codecs discard
// exactly the spectral detail the analysis depends on.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Capture source (↑/↓ or 1-9, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			warn := ""
			if IsBluetooth(d.Name) {
				warn = " \x1b[33m[⚠ lossy codec, degrades analysis]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %d. %s\x1b[0m%s\r\n", i+1, d.Name, warn)
			} else {
				fmt.Printf("    %d. %s%s\r\n", i+1, d.Name, warn)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch {
			case buf[0] == 13: // Enter
				fmt.Print("\r\n")
				term.Restore(fd, oldState)
				return &devices[cursor], nil
			case buf[0] == 3: // Ctrl+C
				fmt.Print("\r\n")
				term.Restore(fd, oldState)
				os.Exit(130)
			case buf[0] >= '1' && buf[0] <= '9':
				if idx := int(buf[0] - '1'); idx < len(devices) {
					cursor = idx
				}
			case buf[0] == 'j':
				if cursor < len(devices)-1 {
					cursor++
				}
			case buf[0] == 'k':
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				if cursor > 0 {
					cursor--
				}
			case 'B':
				if cursor < len(devices)-1 {
					cursor++
				}
			}
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		render()
	}
}
