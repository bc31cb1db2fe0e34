/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	ini "gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logFile *lumberjack.Logger

// initLogging builds the process logger: a console writer on stderr plus a
// rotated JSON file when logging.file is set.
func initLogging(cfg *ini.File, console io.Writer) zerolog.Logger {
	sec := cfg.Section("logging")

	consoleMin := parseLevel(sec.Key("console_level").MustString("info"))
	fileMin := parseLevel(sec.Key("file_level").MustString("debug"))

	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}},
			Level:  consoleMin,
		},
	}

	if name := sec.Key("file").String(); name != "" {
		logFile = &lumberjack.Logger{
			Filename:   name,
			MaxSize:    sec.Key("max_size_mb").MustInt(100),
			MaxBackups: sec.Key("max_backups").MustInt(1),
			MaxAge:     sec.Key("max_age_days").MustInt(0),
			Compress:   sec.Key("compress").MustBool(false),
		}
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: logFile},
			Level:  fileMin,
		})
	}

	level := consoleMin
	if logFile != nil && fileMin < level {
		level = fileMin
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// closeLogging flushes and closes the log file.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// printfLogger adapts zerolog to the core client's Printf logger.
type printfLogger struct {
	log zerolog.Logger
}

func (p printfLogger) Printf(format string, v ...any) {
	p.log.Debug().Msgf(format, v...)
}
