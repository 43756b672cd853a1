// Package measureservice ties the encoder to the history store. It is the
// transport-independent entry point used by the HTTP handler and the CLI.
//
// Construction
//
//	svc := measureservice.New(
//	    measureservice.WithHistory(memoryhistory.New()),
//	    measureservice.WithLogger(log),
//	)
//	conv, err := svc.Convert(ctx, "abbcc") // conv.Result == []int{2, 6}
//
// Without WithHistory conversions are not persisted and History returns
// ErrHistoryDisabled.
package measureservice
