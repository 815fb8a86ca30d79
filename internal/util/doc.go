// Package util holds small internal helpers shared by the agent and tool
// packages: instruction templating and the minimal JSON schema validator used
// for tool arguments.
package util
