package types

// Version is the canonical unlockbench version.
// Reported by the CLI, the /healthz endpoint and run reports.
const Version = "0.3.0"

// ToolUserAgent identifies unlockbench on proxy verification requests.
const ToolUserAgent = "Web-Unlocker-Testing-Tool/1.0"
