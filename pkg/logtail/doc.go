/*
Package logtail follows a proxy log channel the way an operator reads it in
the control panel: the most recent lines first, then new lines as they are
written.

A Session runs in two phases. Start opens a stream.Conn for the log type and
optional domain, then performs one bulk retrieval through a Fetcher (the
panel's GET /nginx/logs endpoint). Live lines that arrive before the
retrieval returns are held back and appended after it, in arrival order, so
the view never shows new lines above older ones.

Lines are kept in a buffer.Ring capped at Options.MaxLines. Every change
hands the full ordered view to OnUpdate handlers as a types.LogSnapshot.

Failures never stop the tail:

  - a failed retrieval is reported as *PrefetchError and the live tail runs
  - frames that are not valid UTF-8 are dropped as *MalformedMessageError
  - frames starting with ServerNoticePrefix are panel errors, reported as
    *ServerNotice instead of being appended

Stop closes the connection and discards the buffer.
*/
package logtail
