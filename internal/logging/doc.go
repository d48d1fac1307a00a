// Package logging provides structured logging for workspaced.
//
// It wraps Zap with:
//   - A custom Trace level (-2, below Debug) for wire-level detail
//   - Automatic context field injection (trace_id, correlation id, project)
//   - Level-aware sampling (errors are never sampled)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
//	logger.Info(ctx, "search completed", zap.Int("results", n))
//
// Components take a named child so log origin is greppable:
//
//	idxLog := logger.Named("indexer")
package logging
