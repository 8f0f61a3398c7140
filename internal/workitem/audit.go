package workitem

import (
	"fmt"
	"strings"
	"time"
)

// maxAuditEntries bounds the processing log so repeated retries cannot grow a
// record without limit. Oldest entries roll off first.
const maxAuditEntries = 40

// AppendAudit records a timestamped message on the item's processing log
// field. Failure context travels with the record rather than only in engine
// logs.
func (i *Item) AppendAudit(step, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	entry := fmt.Sprintf("[%s] %s: %s", time.Now().UTC().Format(time.RFC3339), step, message)

	existing := i.Fields.Get(FieldAuditLog)
	var lines []string
	if existing != "" {
		lines = strings.Split(existing, "\n")
	}
	lines = append(lines, entry)
	if len(lines) > maxAuditEntries {
		lines = lines[len(lines)-maxAuditEntries:]
	}
	i.Fields.Set(FieldAuditLog, strings.Join(lines, "\n"))
}

// AuditEntries returns the processing log split into individual entries.
func (i *Item) AuditEntries() []string {
	raw := i.Fields.Get(FieldAuditLog)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}
