// Package authority talks to the remote license authority, the source of
// truth for license records and demo usage.
//
// Three backends implement Authority: Client speaks REST and a WebSocket
// change stream to the license-authority server, SheetsAuthority keeps the
// records in a Google spreadsheet, and Memory serves tests and offline runs.
// Every network failure is returned wrapped in errors.NetworkError so callers
// can absorb it with errors.Is(err, errors.ErrNetworkUnavailable).
package authority
