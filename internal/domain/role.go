package domain

// Role distinguishes the single presenter of a room from its viewers.
// The topology is a star: students connect only to the teacher.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}
