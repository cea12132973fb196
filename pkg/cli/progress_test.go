package cli

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "Importing")

	progress.Start(4)
	progress.Add(false)
	progress.Add(true)
	progress.Add(false)
	progress.Add(false)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Importing:") {
		t.Errorf("output %q does not contain the label", output)
	}
	if !strings.Contains(output, "(4/4) 1 failed") {
		t.Errorf("output %q does not report the final counts", output)
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "").(*SimpleProgress)

	progress.Start(0)
	progress.Add(false)
	progress.Finish()

	if buf.String() != "\n" {
		t.Errorf("output = %q, want a single newline", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "")

	progress.Start(100)
	progress.Error(fmt.Errorf("test error"))

	output := buf.String()
	if !strings.Contains(output, "Error: test error") {
		t.Errorf("output %q does not contain the error", output)
	}
}

func TestSimpleProgressConcurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "").(*SimpleProgress)
	progress.Start(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				progress.Add(j%10 == 0)
			}
		}(i)
	}
	wg.Wait()
	progress.Finish()

	done, failed := progress.Counts()
	if done != 1000 || failed != 100 {
		t.Errorf("Counts() = (%d, %d), want (1000, 100)", done, failed)
	}
}
