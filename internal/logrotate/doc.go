// Package logrotate rotates the structured log file cmd/ringsocketd
// writes its log lines to (SPEC_FULL.md §A "Logging"): size- and
// age-triggered rotation, optional gzip compression and SHA-256
// checksums of completed segments, and an async MPSC-buffered write
// path so a slow disk never blocks a worker's hot loop.
//
// # Quick start
//
//	logger, err := logrotate.NewWithDefaults("ringsocketd.log")
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	w := log.NewSyncWriter(logger)
//	kitLogger := log.NewLogfmtLogger(w)
//
// # Constructors
//
//	logrotate.New(filename, maxSizeMB, maxBackups)     // legacy numeric form
//	logrotate.NewSimple(filename, maxSize, maxBackups)  // "100MB"-style size
//	logrotate.NewWithDefaults(filename)                 // 100MB/7d/10 backups, compressed
//	logrotate.NewDaily(filename)                        // 50MB/24h/7 backups
//	logrotate.NewWeekly(filename)                       // 200MB/7d/4 backups
//	logrotate.NewDevelopment(filename)                  // 10MB/1h, sync writes, no compression
//	logrotate.NewWithConfig(cfg)                        // full control
//
// # Async mode
//
// Setting Async on a LoggerConfig routes writes through a lock-free
// MPSC ring buffer (buffer.go) instead of taking a mutex per write —
// the shape worker threads need, since every worker's log line would
// otherwise contend with every other worker's on one *os.File.
package logrotate
