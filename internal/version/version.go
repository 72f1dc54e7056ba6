package version

// Version is the current version of syncctl.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "syncctl"

// Description is a short description of the application.
const Description = "MSSQL to PostgreSQL batch migration and incremental sync"
