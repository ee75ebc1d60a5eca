package shared

// AlertSnapshotKey is the redis key holding the latest alert evaluation.
const AlertSnapshotKey = "alerts:snapshot"
