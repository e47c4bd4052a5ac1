package pandoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"docconvert/config"
	"docconvert/storage"
	"docconvert/task"
)

// ErrConvertTimeout marks conversions that exceeded the wall-clock limit,
// so operators can tell stuck tools from tool bugs.
var ErrConvertTimeout = errors.New("conversion timed out")

// ConversionError reports a converter invocation that failed, including a
// missing binary.
type ConversionError struct {
	ExitCode int
	Stderr   string
}

func (e *ConversionError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("pandoc exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("pandoc exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Runner invokes the pandoc binary. It holds no per-task state; concurrent
// Convert calls are safe because every invocation works only on file paths
// keyed by task identity.
type Runner struct {
	bin       string
	extraArgs []string
	layout    *storage.Layout
	cfg       *config.Config
	logger    *slog.Logger
}

func NewRunner(cfg *config.Config, layout *storage.Layout, logger *slog.Logger) (*Runner, error) {
	extraArgs, err := shlex.Split(cfg.PandocArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid pandoc_args: %w", err)
	}
	logger = logger.With("component", "pandoc")

	// A missing binary is not fatal at startup: each invocation reports it
	// as a per-task conversion failure.
	if _, err := exec.LookPath(cfg.PandocBin); err != nil {
		logger.Warn("pandoc binary not found in PATH, conversions will fail", "bin", cfg.PandocBin)
	}

	return &Runner{
		bin:       cfg.PandocBin,
		extraArgs: extraArgs,
		layout:    layout,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Convert runs one conversion and returns the output path. It satisfies
// task.Converter.
func (r *Runner) Convert(ctx context.Context, req task.ConvertRequest) (string, error) {
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	inputExt := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.InputPath)), ".")
	format := strings.ToLower(strings.TrimPrefix(req.OutputFormat, "."))
	if format == "" {
		format = DefaultOutput
	}
	if !OutputSupported(inputExt, format) {
		return "", fmt.Errorf("unsupported output format %q for %q input", format, inputExt)
	}

	name := OutputName(req.OriginalFilename, req.TaskID, format)
	outputPath := filepath.Join(r.layout.ExportsDir(), name)
	if name != req.TaskID+"."+format {
		// Reserve the display name exclusively. If another task holds it,
		// finished or in flight, fall back to the id-keyed name so exports
		// never collide.
		f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			outputPath = filepath.Join(r.layout.ExportsDir(), req.TaskID+"."+format)
		} else {
			f.Close()
		}
	}

	args := []string{"-o", outputPath, "-f", ReaderFor(inputExt), "-t", format}
	if format == "pdf" {
		args = append(args,
			"--pdf-engine=xelatex",
			"-V", "mainfont=DejaVu Sans",
			"-V", "sansfont=DejaVu Sans",
			"-V", "monofont=DejaVu Sans Mono",
		)
	}
	args = append(args, r.extraArgs...)
	args = append(args, req.InputPath)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Info("invoking pandoc", "task_id", req.TaskID, "args", strings.Join(args, " "))

	err := cmd.Run()
	if err != nil {
		// Drop any partial output before reporting.
		os.Remove(outputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: pandoc did not finish within the configured limit", ErrConvertTimeout)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		excerpt := strings.TrimSpace(stderr.String())
		if excerpt == "" {
			excerpt = err.Error()
		}
		return "", &ConversionError{ExitCode: exitCode, Stderr: excerpt}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outputPath)
		return "", &ConversionError{ExitCode: 0, Stderr: "pandoc reported success but produced no output"}
	}
	return outputPath, nil
}

// checkResources verifies the system has enough headroom before starting a
// conversion. Probe failures only log; thresholds of zero disable a check.
func (r *Runner) checkResources() error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(0, false)
		if err != nil {
			r.logger.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU: current usage %.2f%%, idle threshold %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.layout.ExportsDir())
		if err != nil {
			r.logger.Warn("could not get disk usage", "dir", r.layout.ExportsDir(), "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
