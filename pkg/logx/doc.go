// Package logx configures farmcrew's structured logging.
//
// Components log through logx.Logger, a small value type over zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON, one event per line
//   - an optional alert sink forwards warn-and-above lines to an operator
//     channel, rate limited so a failure storm cannot flood it
package logx
