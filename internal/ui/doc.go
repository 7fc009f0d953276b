// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI drives a [tasks.Session] through a multi-view workflow:
//  1. [FileView] : Enter the path of the file to process
//  2. [ModuleView] : Pick a processing module, or none
//  3. [ClassView] : Toggle the classes the module should detect
//  4. [ConfirmView] : Confirm upload and start (also used to retry a failed step)
//  5. [ProgressView] : Upload and task progress bars with channel warnings
//  6. [ResultView] : Report and processed video URLs
//  7. [ReportView] : Paginated summary report table
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Session snapshots arrive through [tasks.Session.Subscribe]; the model never mutates task state itself.
//
// Quitting while work is in flight asks for confirmation through a [tasks.Guard].
package ui
