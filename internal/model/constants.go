package model

// 멤버 역할
const (
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

// 멤버 상태
const (
	MemberActive = "ACTIVE"
	MemberLeft   = "LEFT"
)

// 채팅 메시지 타입
const (
	MessageText   = "TEXT"
	MessageSystem = "SYSTEM"
)

// 파일 종류
const (
	FileTypeFile   = "FILE"
	FileTypeFolder = "FOLDER"
)

// 일정 참여 상태
const (
	AttendPending  = "PENDING"
	AttendAccepted = "ACCEPTED"
	AttendDeclined = "DECLINED"
)

// 알림 타입
const (
	NotifyNotice       = "NOTICE"
	NotifyCalendar     = "CALENDAR"
	NotifyCallStarted  = "CALL_STARTED"
	NotifyFileUploaded = "FILE_UPLOADED"
	NotifyMemberJoined = "MEMBER_JOINED"
)
