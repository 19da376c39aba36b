package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"ledger-api/internal/config"
)

// New builds the application logger from configuration.
func New(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z",
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	switch cfg.Output {
	case "file":
		if cfg.Filename != "" {
			log.SetOutput(fileWriter(cfg))
		} else {
			log.SetOutput(os.Stdout)
		}
	case "both":
		if cfg.Filename != "" {
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter(cfg)))
		} else {
			log.SetOutput(os.Stdout)
		}
	default:
		log.SetOutput(os.Stdout)
	}

	return log
}

// AuditLogger builds a separate stream for security audit events. Audit
// logs are always JSON and are kept twice as long as application logs.
func AuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	audit := logrus.New()
	audit.SetLevel(logrus.InfoLevel)
	audit.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if cfg.AuditFile != "" {
		audit.SetOutput(&lumberjack.Logger{
			Filename:   cfg.AuditFile,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge * 2,
			MaxBackups: cfg.MaxBackups * 2,
			Compress:   cfg.Compress,
		})
	} else {
		audit.SetOutput(os.Stdout)
	}

	return audit
}

// fileWriter returns a file writer with rotation
func fileWriter(cfg config.LoggingConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}
