// Package logx is a small structured-logging facade over zerolog.
//
// Components receive a Logger tagged with a fixed "comp" field and emit
// key=value fields through Field helpers. The zero value is a safe no-op
// logger, so library code never has to nil-check its logger.
package logx
