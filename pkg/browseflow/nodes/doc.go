// Package nodes implements the executors behind the standard browser
// workflow: planning, action dispatch, validation and input requests.
//
// Executors exchange data through scratch keys (see the browseflow Key
// constants). Structured values such as planned actions are stored in their
// JSON form so that scratch state stays cloneable and checkpointable; use
// PlannedActions and ActionResults to read them back.
//
// Planners:
//
//   - LLMPlanner prompts a language model and parses its JSON reply
//   - RulePlanner reads simple imperative goals such as
//     "open example.com then click #login"
//
// Action execution is delegated to an ActionExecutor, always called while
// the session's lock is held.
package nodes
