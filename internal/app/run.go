package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ramnasidharta/fizim/internal/config"
	"github.com/ramnasidharta/fizim/internal/email"
	"github.com/ramnasidharta/fizim/internal/normalize"
)

type report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Location   *time.Location

	DownloadEnabled bool
	Packages        []string
	Downloaded      int

	Normalized map[string]normalize.Report

	LoadEnabled bool
	Loaded      []TableLoad

	Errors []string
}

// Run executes the whole pipeline: download (when enabled), both normalizers,
// load (when enabled), then mails the report when SMTP is configured.
func Run(ctx context.Context, cfg config.Config) error {
	start := time.Now()
	runID := uuid.New().String()
	log := slog.Default().With("run_id", runID)
	log.Info("pipeline started",
		"datasets", cfg.DatasetsDir,
		"destine", cfg.DestineDir,
		"registers_destine", cfg.RegistersDir,
		"enable_download", cfg.EnableDownload,
		"enable_load", cfg.EnableLoad,
	)

	rep := report{
		RunID:           runID,
		StartedAt:       start,
		Location:        time.Local,
		DownloadEnabled: cfg.EnableDownload,
		LoadEnabled:     cfg.EnableLoad,
	}

	mail := mailConfig(cfg)
	mailOK := email.Enabled(mail)
	if mailOK {
		if err := CheckMail(cfg); err != nil {
			log.Warn("mail server unreachable, report will not be sent", "error", err)
			mailOK = false
		}
	}

	err := runStages(ctx, cfg, &rep)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
	}
	rep.FinishedAt = time.Now()

	if mailOK {
		notify(log, mail, rep, err == nil)
	}

	if err != nil {
		return err
	}
	log.Info("pipeline finished", "duration", time.Since(start).String())
	return nil
}

func runStages(ctx context.Context, cfg config.Config, rep *report) error {
	if cfg.EnableDownload {
		d, err := Download(ctx, cfg)
		rep.Packages, rep.Downloaded = d.Packages, d.Files
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
	}

	norm, err := Normalize(ctx, cfg)
	rep.Normalized = norm
	if err != nil {
		return err
	}

	if cfg.EnableLoad {
		loaded, err := Load(ctx, cfg)
		rep.Loaded = loaded
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	return nil
}

func mailConfig(cfg config.Config) email.SMTPConfig {
	return email.SMTPConfig{Host: cfg.SMTPHost, Port: cfg.SMTPPort, User: cfg.SMTPUser, Pass: cfg.SMTPPass, To: cfg.MailTo}
}

// CheckMail verifies the SMTP server answers, authenticating when
// credentials are configured.
func CheckMail(cfg config.Config) error {
	mail := mailConfig(cfg)
	if mail.User != "" && mail.Pass != "" {
		return email.CheckConnectionRequireAuth(mail)
	}
	return email.CheckConnection(mail)
}

func notify(log *slog.Logger, smtpCfg email.SMTPConfig, rep report, ok bool) {
	subject := "Fizim - Normalização finalizada"
	if !ok {
		subject = "Fizim - Normalização com erro"
	}
	if err := email.Send(smtpCfg, subject, formatReport(rep)); err != nil {
		log.Error("failed to send report", "error", err)
		return
	}
	log.Info("report sent", "to", smtpCfg.To)
}
