package scheduler

import (
	"context"
	"fmt"

	"github.com/haukened/focusflow/internal/focus/domain"
)

// dispatch runs one message on the event loop. While blocking is disabled
// the blocking messages are acknowledged as ignored. The enable toggle,
// the popup and usage tracking are never gated.
func (s *Scheduler) dispatch(ctx context.Context, msg Message) (Response, error) {
	switch msg.Type {
	case MsgSetExtensionEnabled:
		return s.handleSetEnabled(ctx, msg)
	case MsgOpenExtensionPopup:
		return s.handleOpenPopup()
	case MsgRecordUsage:
		return s.handleRecordUsage(ctx, msg)
	case MsgGetUsage:
		return s.handleGetUsage(ctx)
	}
	if !IsKnownMessageType(msg.Type) {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return Response{}, err
	}
	if !s.enabled {
		s.logger.Debug(map[string]any{"type": string(msg.Type)}, "blocking disabled, message ignored")
		return Response{Ignored: true}, nil
	}

	switch msg.Type {
	case MsgUnblockSite:
		return s.handleUnblockSite(ctx, msg)
	case MsgGetAllRules:
		return s.handleGetAllRules(ctx)
	case MsgUpdateBlockSchedule:
		return s.handleUpdateSchedule(ctx, msg)
	case MsgCheckBlockTime:
		return s.handleCheckBlockTime(ctx, msg)
	case MsgBlockSite:
		return s.handleBlockSite(ctx, msg)
	default: // MsgSetTimezone
		return s.handleSetTimezone(ctx, msg)
	}
}

func (s *Scheduler) handleRecordUsage(ctx context.Context, msg Message) (Response, error) {
	total, err := s.ledger.RecordUsage(ctx, msg.Domain, msg.Seconds)
	if err != nil {
		return Response{}, err
	}
	return Response{Total: &total}, nil
}

func (s *Scheduler) handleGetUsage(ctx context.Context) (Response, error) {
	report, err := s.ledger.Report(ctx)
	if err != nil {
		return Response{}, err
	}
	return Response{Usage: &report}, nil
}

func (s *Scheduler) handleSetEnabled(ctx context.Context, msg Message) (Response, error) {
	if msg.Enabled == nil {
		return Response{}, fmt.Errorf("%w: enabled is required", ErrInvalidMessage)
	}
	enabled := *msg.Enabled
	if err := s.store.SetExtensionEnabled(ctx, enabled); err != nil {
		return Response{}, fmt.Errorf("persist enabled flag: %w", err)
	}
	s.setEnabled(enabled)
	s.logger.Info(map[string]any{"enabled": enabled}, "blocking toggled")
	_ = s.recompute(ctx)
	return Response{}, nil
}

func (s *Scheduler) handleOpenPopup() (Response, error) {
	if s.onOpenPopup != nil {
		s.onOpenPopup()
	}
	return Response{}, nil
}

func (s *Scheduler) handleUnblockSite(ctx context.Context, msg Message) (Response, error) {
	name, err := domain.NormalizeDomain(msg.Domain)
	if err != nil {
		return Response{}, err
	}
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return Response{}, err
	}
	kept := make([]string, 0, len(sites))
	for _, site := range sites {
		if site != name {
			kept = append(kept, site)
		}
	}
	delete(schedules, name)
	if err := s.store.SetBlockList(ctx, kept, schedules); err != nil {
		return Response{}, fmt.Errorf("persist block list: %w", err)
	}
	if msg.RuleID != nil {
		if err := s.sync.UnblockOne(ctx, name, *msg.RuleID); err != nil {
			s.logger.Error(map[string]any{"domain": name, "error": err.Error()}, "failed to remove rule")
		}
	}
	s.logger.Info(map[string]any{"domain": name}, "domain unblocked")
	_ = s.recompute(ctx)
	return Response{}, nil
}

func (s *Scheduler) handleGetAllRules(ctx context.Context) (Response, error) {
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return Response{}, err
	}
	rules, err := s.sync.rules.ListRules(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("list rules: %w", err)
	}
	byDomain := make(map[string]int, len(rules))
	for _, r := range rules {
		byDomain[r.Domain] = r.ID
	}
	views := make([]domain.RuleView, 0, len(sites))
	for _, site := range sites {
		v := domain.RuleView{Domain: site, Schedule: scheduleFor(schedules, site)}
		if id, ok := byDomain[site]; ok {
			v.RuleID = &id
			v.IsActive = true
		}
		views = append(views, v)
	}
	return Response{Rules: views}, nil
}

func (s *Scheduler) handleUpdateSchedule(ctx context.Context, msg Message) (Response, error) {
	if msg.Schedule == nil {
		return Response{}, fmt.Errorf("%w: schedule is required", ErrInvalidMessage)
	}
	name, err := domain.NormalizeDomain(msg.Domain)
	if err != nil {
		return Response{}, err
	}
	sched := *msg.Schedule
	sched.Enabled = true
	if err := sched.Validate(); err != nil {
		return Response{}, err
	}
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return Response{}, err
	}
	if !contains(sites, name) {
		sites = append(sites, name)
	}
	schedules[name] = sched.WithDefaults()
	if err := s.store.SetBlockList(ctx, sites, schedules); err != nil {
		return Response{}, fmt.Errorf("persist block list: %w", err)
	}
	s.logger.Info(map[string]any{
		"domain":    name,
		"always_on": sched.AlwaysOn,
		"start":     sched.StartTime,
		"end":       sched.EndTime,
	}, "schedule updated")
	_ = s.recompute(ctx)
	return Response{}, nil
}

func (s *Scheduler) handleCheckBlockTime(ctx context.Context, msg Message) (Response, error) {
	name, err := domain.NormalizeDomain(msg.Domain)
	if err != nil {
		return Response{}, err
	}
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return Response{}, err
	}
	block := false
	if contains(sites, name) {
		tz, err := s.store.Timezone(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("read timezone: %w", err)
		}
		active, err := scheduleFor(schedules, name).ActiveAt(tz, s.clock.Now())
		if err != nil {
			s.logger.Warn(map[string]any{"domain": name, "error": err.Error()}, "schedule evaluation failed, not blocking")
		}
		block = active
	}
	return Response{ShouldBlock: &block}, nil
}

func (s *Scheduler) handleBlockSite(ctx context.Context, msg Message) (Response, error) {
	name, err := domain.NormalizeDomain(msg.Domain)
	if err != nil {
		return Response{}, err
	}
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return Response{}, err
	}
	if !contains(sites, name) {
		sites = append(sites, name)
	}
	if _, ok := schedules[name]; !ok {
		schedules[name] = domain.DefaultSchedule()
	}
	if err := s.store.SetBlockList(ctx, sites, schedules); err != nil {
		return Response{}, fmt.Errorf("persist block list: %w", err)
	}
	s.logger.Info(map[string]any{"domain": name}, "domain blocked")
	_ = s.recompute(ctx)
	return Response{}, nil
}

func (s *Scheduler) handleSetTimezone(ctx context.Context, msg Message) (Response, error) {
	loc, err := domain.LoadTimezone(msg.Timezone)
	if err != nil {
		return Response{}, err
	}
	if err := s.store.SetTimezone(ctx, loc.String()); err != nil {
		return Response{}, fmt.Errorf("persist timezone: %w", err)
	}
	s.logger.Info(map[string]any{"timezone": loc.String()}, "timezone updated")
	_ = s.recompute(ctx)
	return Response{}, nil
}

func (s *Scheduler) blockList(ctx context.Context) ([]string, map[string]domain.BlockSchedule, error) {
	sites, err := s.store.BlockedSites(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read blocked sites: %w", err)
	}
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read schedules: %w", err)
	}
	if schedules == nil {
		schedules = map[string]domain.BlockSchedule{}
	}
	return sites, schedules, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
