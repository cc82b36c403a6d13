package radio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// busyExitCode is the exit status (EBUSY) a helper uses to report that the
// device is busy.
const busyExitCode = 16

// Command configures radios by running an external driver helper once per
// parameter as:
//
//	<Path> <Args...> <interface name> <option> <value>
//
// A zero exit status means success. Exit status 16, or "busy" on stderr,
// maps to ErrBusy. Anything else maps to ErrRejected.
type Command struct {
	Path string
	Args []string
	// Interfaces maps logical interface indexes to interface names.
	Interfaces []string
}

// Set runs the helper for a single parameter.
func (c *Command) Set(ctx context.Context, iface int, option Option, value uint32) error {
	if iface < 0 || iface >= len(c.Interfaces) {
		return fmt.Errorf("%w: unknown interface %d", ErrRejected, iface)
	}
	args := append([]string{}, c.Args...)
	args = append(args, c.Interfaces[iface], string(option), FormatValue(value))
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(stderr.String())
	log.Debug("radio helper failed", "iface", c.Interfaces[iface], "option", option,
		"value", value, "error", err, "stderr", msg)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == busyExitCode || strings.Contains(strings.ToLower(msg), "busy") {
			return fmt.Errorf("%s=%d on %s: %w", option, value, c.Interfaces[iface], ErrBusy)
		}
		return fmt.Errorf("%s=%d on %s: %w: %s", option, value, c.Interfaces[iface], ErrRejected, msg)
	}
	return err
}

// DryRun accepts every parameter and only logs it. It is used when the
// radios are configured out of band.
type DryRun struct{}

// Set logs the parameter.
func (DryRun) Set(ctx context.Context, iface int, option Option, value uint32) error {
	log.Debug("dry-run radio set", "iface", iface, "option", option, "value", value)
	return nil
}

var (
	_ Configurator = &Command{}
	_ Configurator = DryRun{}
)
