// Package snapshot writes the telemetry state to the file the display front
// end polls. Writes go to a temporary file that is synced and then renamed
// over the published path, so a reader sees either the old or the new
// snapshot in full.
package snapshot

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/elithion/lithiumate-dash/internal/atomicfile"
	"github.com/elithion/lithiumate-dash/internal/bms"
)

const (
	preamble = `<!DOCTYPE HTML>
<html lang="en-us">
`
	postamble = `</html>`

	// CounterModulus is where the liveness counter wraps.
	CounterModulus = 10000
)

// Publisher renders and atomically replaces the snapshot file.
type Publisher struct {
	path    string
	tmpPath string
	counter int
}

// New returns a publisher for path. An empty tmpPath means path with its
// extension replaced by ".tmp", in the same directory so the rename stays
// on one filesystem.
func New(path, tmpPath string) *Publisher {
	if tmpPath == "" {
		tmpPath = strings.TrimSuffix(path, filepath.Ext(path)) + ".tmp"
	}
	return &Publisher{path: path, tmpPath: tmpPath}
}

// Path returns the published file path.
func (p *Publisher) Path() string { return p.path }

// Publish writes st and returns the counter value it carries. The counter
// advances on every call, even when the write fails.
func (p *Publisher) Publish(st bms.State) (int, error) {
	counter := p.counter
	p.counter = (p.counter + 1) % CounterModulus

	if err := p.write(Render(st, counter)); err != nil {
		log.Printf("[snapshot] failed to write %s: %v", p.path, err)
		return counter, err
	}
	return counter, nil
}

func (p *Publisher) write(data []byte) error {
	if err := atomicfile.WriteFile(p.path, p.tmpPath, data, 0644); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// Render produces the snapshot text: one <code>='<payload>'; line per
// record in bms.AllCodes order, then the counter, inside the fixed preamble
// and postamble.
func Render(st bms.State, counter int) []byte {
	var b strings.Builder
	b.WriteString(preamble)
	for _, r := range st.Records {
		fmt.Fprintf(&b, "%s='%s';\n", r.Code.String(), r.Payload)
	}
	fmt.Fprintf(&b, "c='%d';\n", counter)
	b.WriteString(postamble)
	return []byte(b.String())
}
