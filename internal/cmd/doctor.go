package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/internal/observability"
	"github.com/mographlabs/mograph/pkg/ffmpeg"
	"github.com/mographlabs/mograph/pkg/flock"
	"github.com/mographlabs/mograph/pkg/gpuprobe"
	"github.com/mographlabs/mograph/pkg/runstore"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and suggest fixes for
common issues.

Examples:
  mograph doctor
  mograph doctor --config config.yaml`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	log := observability.CLILogger

	log.Info("=== mograph doctor ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 7

	check := func(ok bool, okMsg, failMsg string, fields ...zap.Field) {
		if ok {
			log.Info(fmt.Sprintf("[%d/%d] %s ✅", checkNum, totalChecks, okMsg), fields...)
		} else {
			log.Warn(fmt.Sprintf("[%d/%d] %s ⚠️  %s", checkNum, totalChecks, okMsg, failMsg), fields...)
			allChecks = false
		}
		checkNum++
	}

	// Go runtime
	goVersion := runtime.Version()
	check(goVersion >= "go1.23",
		"Checking Go version...",
		"(recommended: go1.23+)",
		zap.String("go_version", goVersion))

	// FFmpeg
	binary, ffErr := ffmpeg.Resolve(cfg.FFmpeg.Path)
	check(ffErr == nil,
		"Checking FFmpeg...",
		"not found; vertical adaptation will be skipped",
		zap.String("binary", binary))

	// Accelerator
	snap := gpuprobe.New().Probe(ctx)
	check(snap.HasAccelerator(),
		"Checking accelerator...",
		"none detected; runs will be forced serial",
		zap.String("name", snap.Name),
		zap.Int("total_memory_mb", snap.TotalMemoryMB),
		zap.Int("free_memory_mb", snap.FreeMemoryMB),
		zap.Int("cpu_cores", snap.CPUCores))

	// nvidia-smi on PATH
	_, smiErr := exec.LookPath("nvidia-smi")
	check(smiErr == nil,
		"Checking nvidia-smi...",
		"not on PATH; accelerator probe degrades to CPU")

	// Work directory writable
	workErr := checkWritableDir(cfg.Scheduler.WorkDir)
	check(workErr == nil,
		"Checking work directory...",
		fmt.Sprintf("not writable: %v", workErr),
		zap.String("path", cfg.Scheduler.WorkDir))

	// Lock acquirable
	lockErr := checkLock(ctx, cfg.Scheduler.LockPath)
	check(lockErr == nil,
		"Checking GPU lock...",
		fmt.Sprintf("cannot acquire: %v", lockErr),
		zap.String("path", cfg.Scheduler.LockPath))

	// Run store opens
	storeErr := checkRunStore(ctx, cfg.Scheduler.RunDB)
	check(storeErr == nil,
		"Checking run store...",
		fmt.Sprintf("cannot open: %v", storeErr),
		zap.String("path", cfg.Scheduler.RunDB))

	log.Info("")
	if allChecks {
		log.Info("All checks passed ✅")
	} else {
		log.Warn("Some checks reported problems; see above")
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkLock(ctx context.Context, path string) error {
	h, err := flock.New(path, 2*time.Second).Acquire(ctx)
	if err != nil {
		return err
	}
	h.Release()
	return nil
}

func checkRunStore(ctx context.Context, path string) error {
	store, err := runstore.Open(ctx, path)
	if err != nil {
		return err
	}
	return store.Close()
}
