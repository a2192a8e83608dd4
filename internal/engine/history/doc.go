// Package history provides undo/redo for the document core.
//
// The history system uses the Command pattern to encapsulate document
// mutations so they can be done, undone and redone. Key concepts:
//
// # Commands
//
// Commands implement Do, Undo and Redo against a *document.Document and
// declare the element uids they affect. Two mutation strategies are used:
//
//   - Structural diff: the command clones the pre-state, lets the caller
//     mutate the clone, diffs clone against original and keeps only the
//     patch. Undo reverts the patch and Redo re-applies it. Element
//     attributes, filter lists, document meta and tree restructuring work
//     this way (UpdateElementCommand, UpdateFiltersCommand,
//     UpdateMetaCommand, RestructureCommand).
//   - Snapshot swap: the command keeps the full previous and next buffers
//     and swaps them. Raster pixels work this way (UpdateBitmapCommand).
//     The previous buffer may be compacted in the background.
//
// Tree commands (AddLayerCommand, RemoveLayerCommand, MoveLayerCommand)
// go through the document's node index and keep what they detached so that
// Redo relinks the same subtree.
//
// # History Stack
//
// History manages the undo and redo stacks:
//
//	h := history.New(doc, history.WithMaxEntries(500))
//	h.Do(ctx, history.NewAddLayerCommand(el, nil, document.AppendIndex))
//	h.Undo(ctx)
//	h.Redo(ctx)
//
// Every transition publishes an affect event with the command's element
// uids and one layer-updated event per uid.
//
// # Command Grouping
//
// A Group runs its children in order, undoes them in reverse and redoes
// them forward. BeginGroup/EndGroup and Transaction collect several Do
// calls into one undo unit.
package history
