// Package render schedules document renders against the single shared
// drawing context.
//
// The Orchestrator is the boundary between the transactional core and the
// pixels:
//
//	┌────────────────────────────────────────────┐
//	│ Orchestrator                               │
//	│  FullRender │ RequestPreview │ CommitStroke │
//	├────────────────────────────────────────────┤
//	│ commit lock (lock.ResourceLock[*gg.Context])│
//	│ preview lane (lane.Queue, drop-oldest)     │
//	│ element bitmap cache (render/cache)        │
//	├────────────────────────────────────────────┤
//	│ Backend (gg software rasterizer)           │
//	└────────────────────────────────────────────┘
//
// Every path that draws into the shared context holds the commit lock for
// the whole span. Stroke commits hold it across history.Do and the render
// that follows, so no render observes a half-applied edit. Starting a full
// render cancels the one in flight; a cancelled render returns an error
// wrapping derrors.ErrAborted, which callers treat as ignorable.
//
// Leaf element bitmaps are memoized in the cache and dropped by the
// history affect events published after every do, undo and redo.
package render
