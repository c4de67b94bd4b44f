package users

// User is a registered workspace participant.
type User struct {
	Username               string `gorm:"column:username;primaryKey;size:190;not null"`
	PasswordHash           string `gorm:"column:password_hash;size:190;not null"`
	Role                   string `gorm:"column:role;size:32;not null"`
	PasswordResetRequested bool   `gorm:"column:password_reset_requested;not null;default:false"`
	CreatedAtSeconds       int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// FileGrant records an admin-granted file access entry for a user.
type FileGrant struct {
	Username string `gorm:"column:username;primaryKey;size:190;not null"`
	Path     string `gorm:"column:path;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FileGrant) TableName() string {
	return "file_grants"
}
