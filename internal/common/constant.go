package common

// Metadata keys for local-only sync state. These live in the metadata table
// and are never exported into snapshots.
const (
	MetaCredential     = "credential"
	MetaFolderID       = "folderId"
	MetaLastBackupTime = "lastBackupTime"
)

// Setting keys read from the user settings collection.
const (
	SettingOAuthClientID = "googleOAuthClientId"
	SettingMaxBackups    = "maxBackups"
)

// DefaultMaxBackups is the retention cap used when neither the settings
// collection nor the configuration provide one.
const DefaultMaxBackups = 10

// MetaS3Folder records the bucket/prefix the S3 backend has verified.
const MetaS3Folder = "s3Folder"
