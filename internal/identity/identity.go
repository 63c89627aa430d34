// Package identity ties an installation to the hardware it was first run on.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/elithion/lithiumate-dash/internal/atomicfile"
)

// ErrMismatch means the installation was registered on different hardware.
// It is permanent: retrying cannot clear it.
var ErrMismatch = errors.New("identity: hardware serial does not match registration")

// MismatchError carries both serials of a failed check.
type MismatchError struct {
	Registered string
	Current    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("identity: registered serial %q, hardware reports %q", e.Registered, e.Current)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// ReadHardwareSerial returns the board serial number from a cpuinfo-style
// file: the text after ':' on the last line mentioning "Serial". It returns
// "" without error when no such line exists.
func ReadHardwareSerial(cpuinfoPath string) (string, error) {
	f, err := os.Open(cpuinfoPath)
	if err != nil {
		return "", fmt.Errorf("identity: open %s: %w", cpuinfoPath, err)
	}
	defer f.Close()

	serial := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "Serial") {
			continue
		}
		if _, v, ok := strings.Cut(line, ":"); ok {
			serial = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("identity: read %s: %w", cpuinfoPath, err)
	}
	return serial, nil
}

// Registry is the registration file holding the serial recorded on first run.
type Registry struct {
	path string
}

func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Registered returns the stored serial and whether a registration exists.
// An empty file is not a registration.
func (r *Registry) Registered() (string, bool, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("identity: read %s: %w", r.path, err)
	}
	stored := strings.TrimSpace(string(data))
	if stored == "" {
		// Left by an interrupted first run; register again.
		return "", false, nil
	}
	return stored, true, nil
}

// Check compares serial against the registration, creating the registration
// if there is none. A different stored serial yields a *MismatchError.
func (r *Registry) Check(serial string) error {
	stored, ok, err := r.Registered()
	if err != nil {
		return err
	}
	if ok {
		log.Printf("[identity] hardware serial %q, registered %q", serial, stored)
		if stored != serial {
			return &MismatchError{Registered: stored, Current: serial}
		}
		return nil
	}

	log.Printf("[identity] registering hardware serial %q in %s", serial, r.path)
	if err := atomicfile.WriteFile(r.path, "", []byte(serial+"\n"), 0644); err != nil {
		return fmt.Errorf("identity: write %s: %w", r.path, err)
	}
	return nil
}
