// Package pipeline drives the fetch and persist steps for every configured
// indicator.
//
// For each identifier, in list order: fetch metadata, parse it, save it as
// "Metadata ID {id}.xlsx", pull indicator_name out of it, fetch records,
// parse them, and save them as "{sanitized name}.csv". The first failing step
// ends that indicator's flow; the next identifier starts regardless. Each
// indicator's result is an Outcome carrying the step it stopped at.
package pipeline
