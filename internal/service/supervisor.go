package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/openclaw/botforge-relay/internal/artifact"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

// forceKillWait bounds how long Stop waits for the reaper after SIGKILL.
const forceKillWait = 2 * time.Second

// HandleJournal keeps a durable copy of the live handle table so that a
// restarted process can report children it lost track of.
type HandleJournal interface {
	Record(ctx context.Context, entry model.HandleEntry) error
	Remove(ctx context.Context, botID string) error
	Entries(ctx context.Context) ([]model.HandleEntry, error)
}

type noopJournal struct{}

func (noopJournal) Record(context.Context, model.HandleEntry) error { return nil }

func (noopJournal) Remove(context.Context, string) error { return nil }

func (noopJournal) Entries(context.Context) ([]model.HandleEntry, error) { return nil, nil }

type processHandle struct {
	entry model.HandleEntry
	cmd   *exec.Cmd
	done  chan struct{}
	err   error
}

func (h *processHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor launches bot artifacts as child processes and stops them.
// Every child runs in its own process group so that stopping a bot also
// stops anything it spawned. The handle table is owned by the supervisor
// and guarded by mu; handles are reaped by one goroutine per child.
type Supervisor struct {
	artifacts   *artifact.Store
	bots        repository.BotRepository
	journal     HandleJournal
	interpreter string
	grace       time.Duration

	mu      sync.Mutex
	handles map[string]*processHandle
}

func NewSupervisor(artifacts *artifact.Store, bots repository.BotRepository, journal HandleJournal, interpreter string, grace time.Duration) *Supervisor {
	if journal == nil {
		journal = noopJournal{}
	}
	return &Supervisor{
		artifacts:   artifacts,
		bots:        bots,
		journal:     journal,
		interpreter: interpreter,
		grace:       grace,
		handles:     make(map[string]*processHandle),
	}
}

// Start launches the bot's artifact and marks the record running. It
// returns false when the artifact is missing, the launch fails, or a live
// process for the bot already exists.
func (s *Supervisor) Start(ctx context.Context, botID string, ownerID int64) (bool, error) {
	if !s.artifacts.Exists(ownerID, botID) {
		log.Warn().Str("botId", botID).Int64("ownerId", ownerID).Msg("supervisor: artifact missing, not starting")
		return false, nil
	}

	s.mu.Lock()
	if h, ok := s.handles[botID]; ok {
		if !h.exited() {
			s.mu.Unlock()
			log.Warn().Str("botId", botID).Int("pid", h.entry.PID).Msg("supervisor: bot already has a live process")
			return false, nil
		}
		delete(s.handles, botID)
	}

	h, err := s.spawn(botID, ownerID)
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Str("botId", botID).Msg("supervisor: failed to launch bot")
		return false, nil
	}
	s.handles[botID] = h
	s.mu.Unlock()

	if err := s.journal.Record(ctx, h.entry); err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("supervisor: failed to journal handle")
	}

	if _, err := s.bots.SetRunning(ctx, ownerID, botID, true); err != nil {
		s.mu.Lock()
		delete(s.handles, botID)
		s.mu.Unlock()
		s.terminate(h)
		s.forget(ctx, botID)
		return false, fmt.Errorf("mark bot running: %w", err)
	}

	log.Info().Str("botId", botID).Int64("ownerId", ownerID).Int("pid", h.entry.PID).Msg("supervisor: bot started")
	return true, nil
}

func (s *Supervisor) spawn(botID string, ownerID int64) (*processHandle, error) {
	path := s.artifacts.Path(ownerID, botID)

	logFile, err := os.OpenFile(path+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open bot log: %w", err)
	}

	cmd := exec.Command(s.interpreter, path)
	cmd.Dir = s.artifacts.Dir()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &processHandle{
		entry: model.HandleEntry{
			BotID:     botID,
			OwnerID:   ownerID,
			PID:       cmd.Process.Pid,
			StartedAt: time.Now(),
		},
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		h.err = cmd.Wait()
		logFile.Close()
		close(h.done)
		log.Info().Err(h.err).Str("botId", botID).Int("pid", h.entry.PID).Msg("supervisor: bot process exited")
	}()

	return h, nil
}

// Stop terminates the bot's process group and marks the record stopped.
// It returns false when no handle is tracked for the bot.
func (s *Supervisor) Stop(ctx context.Context, botID string, ownerID int64) (bool, error) {
	s.mu.Lock()
	h, ok := s.handles[botID]
	if !ok || h.entry.OwnerID != ownerID {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.handles, botID)
	s.mu.Unlock()

	s.terminate(h)
	s.forget(ctx, botID)

	if _, err := s.bots.SetRunning(ctx, ownerID, botID, false); err != nil {
		return true, fmt.Errorf("mark bot stopped: %w", err)
	}

	log.Info().Str("botId", botID).Int64("ownerId", ownerID).Msg("supervisor: bot stopped")
	return true, nil
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// if the child has not been reaped within the grace period.
func (s *Supervisor) terminate(h *processHandle) {
	if h.exited() {
		return
	}
	pgid := -h.entry.PID

	if err := unix.Kill(pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Warn().Err(err).Int("pid", h.entry.PID).Msg("supervisor: SIGTERM failed")
	}

	select {
	case <-h.done:
		// The leader is gone but members of its group may linger.
		_ = unix.Kill(pgid, unix.SIGKILL)
		return
	case <-time.After(s.grace):
	}

	log.Warn().Int("pid", h.entry.PID).Dur("grace", s.grace).Msg("supervisor: bot ignored SIGTERM, killing")
	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Error().Err(err).Int("pid", h.entry.PID).Msg("supervisor: SIGKILL failed")
	}

	select {
	case <-h.done:
	case <-time.After(forceKillWait):
		log.Error().Int("pid", h.entry.PID).Msg("supervisor: bot process not reaped after SIGKILL")
	}
}

func (s *Supervisor) forget(ctx context.Context, botID string) {
	if err := s.journal.Remove(ctx, botID); err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("supervisor: failed to remove journal entry")
	}
}

// IsTracked reports whether the supervisor holds a handle for the bot,
// whether or not the process is still alive.
func (s *Supervisor) IsTracked(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[botID]
	return ok
}

// Alive reports whether the bot has a tracked process that has not exited.
func (s *Supervisor) Alive(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[botID]
	return ok && !h.exited()
}

// Reconcile compares a record's running flag with the handle table and
// corrects the record. A bot whose process exited on its own is flagged
// stopped and its handle dropped. It returns whether the bot is running.
// The correction is written under mu so a concurrent Start or Stop always
// writes after it.
func (s *Supervisor) Reconcile(ctx context.Context, record model.BotRecord) (bool, error) {
	s.mu.Lock()
	h, tracked := s.handles[record.BotID]
	if tracked && h.entry.OwnerID != record.OwnerID {
		tracked = false
	}
	alive := tracked && !h.exited()
	if tracked && !alive {
		delete(s.handles, record.BotID)
	}

	var err error
	if record.IsRunning != alive {
		_, err = s.bots.SetRunning(ctx, record.OwnerID, record.BotID, alive)
	}
	s.mu.Unlock()

	if tracked && !alive {
		s.forget(ctx, record.BotID)
	}
	if record.IsRunning == alive {
		return alive, nil
	}
	if err != nil {
		return alive, fmt.Errorf("reconcile bot state: %w", err)
	}
	log.Info().Str("botId", record.BotID).Bool("running", alive).Msg("supervisor: corrected stale running flag")
	return alive, nil
}

// ReconcileAll reconciles every record flagged running and returns how
// many were corrected.
func (s *Supervisor) ReconcileAll(ctx context.Context) (int, error) {
	records, err := s.bots.FindRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("find running bots: %w", err)
	}

	corrected := 0
	for _, record := range records {
		running, err := s.Reconcile(ctx, record)
		if err != nil {
			return corrected, err
		}
		if !running {
			corrected++
		}
	}
	return corrected, nil
}

// ReportOrphans inspects journal entries left by a previous run. Entries
// whose process is gone are cleared; live ones are logged and returned.
// Orphans are not signalled because their pid may have been reused.
func (s *Supervisor) ReportOrphans(ctx context.Context) ([]model.HandleEntry, error) {
	entries, err := s.journal.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("read handle journal: %w", err)
	}

	var orphans []model.HandleEntry
	for _, entry := range entries {
		if s.IsTracked(entry.BotID) {
			continue
		}
		if processExists(entry.PID) {
			log.Warn().
				Str("botId", entry.BotID).
				Int64("ownerId", entry.OwnerID).
				Int("pid", entry.PID).
				Time("startedAt", entry.StartedAt).
				Msg("supervisor: bot process from a previous run may still be alive")
			orphans = append(orphans, entry)
			continue
		}
		s.forget(ctx, entry.BotID)
	}
	return orphans, nil
}

// Shutdown stops every tracked bot.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*processHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *processHandle) {
			defer wg.Done()
			if _, err := s.Stop(ctx, h.entry.BotID, h.entry.OwnerID); err != nil {
				log.Error().Err(err).Str("botId", h.entry.BotID).Msg("supervisor: failed to stop bot on shutdown")
			}
		}(h)
	}
	wg.Wait()
	log.Info().Int("bots", len(handles)).Msg("supervisor: all bots stopped")
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
