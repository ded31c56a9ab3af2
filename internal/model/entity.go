package model

import (
	"time"
)

// User 사용자
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Nickname     string    `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg   *string   `gorm:"type:text" json:"profile_img,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Classrooms []ClassroomMember `gorm:"foreignKey:UserID" json:"classrooms,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Classroom 학급
type Classroom struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name"`
	Subject    *string   `gorm:"type:varchar(100)" json:"subject,omitempty"`
	OwnerID    int64     `gorm:"not null" json:"owner_id"`
	InviteCode string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"invite_code"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Owner        User              `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Members      []ClassroomMember `gorm:"foreignKey:ClassroomID" json:"members,omitempty"`
	Notices      []Notice          `gorm:"foreignKey:ClassroomID" json:"notices,omitempty"`
	Events       []CalendarEvent   `gorm:"foreignKey:ClassroomID" json:"events,omitempty"`
	Files        []ClassFile       `gorm:"foreignKey:ClassroomID" json:"files,omitempty"`
	CallSessions []CallSession     `gorm:"foreignKey:ClassroomID" json:"call_sessions,omitempty"`
}

func (Classroom) TableName() string {
	return "classrooms"
}

// ClassroomMember 학급 멤버
type ClassroomMember struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID int64     `gorm:"not null;index" json:"classroom_id"`
	UserID      int64     `gorm:"not null;index" json:"user_id"`
	Role        string    `gorm:"type:varchar(20);not null;default:'STUDENT'" json:"role"` // TEACHER, STUDENT
	Status      string    `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"`         // ACTIVE, LEFT
	JoinedAt    time.Time `gorm:"autoCreateTime" json:"joined_at"`

	// Relations
	Classroom Classroom `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	User      User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ClassroomMember) TableName() string {
	return "classroom_members"
}

// Notice 공지사항
type Notice struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID int64     `gorm:"not null;index" json:"classroom_id"`
	AuthorID    *int64    `json:"author_id,omitempty"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Pinned      bool      `gorm:"default:false" json:"pinned"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Classroom Classroom `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	Author    *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
}

func (Notice) TableName() string {
	return "notices"
}

// ChatMessage 학급 채팅 메시지
type ChatMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID int64     `gorm:"not null;index" json:"classroom_id"`
	SenderID    *int64    `json:"sender_id,omitempty"`
	Content     *string   `gorm:"type:text" json:"content,omitempty"`
	Type        string    `gorm:"type:varchar(20);default:'TEXT'" json:"type"` // TEXT, SYSTEM
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	// Relations
	Classroom Classroom `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	Sender    *User     `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// CalendarEvent 캘린더 이벤트
type CalendarEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID int64     `gorm:"not null;index" json:"classroom_id"`
	CreatorID   *int64    `json:"creator_id,omitempty"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	StartAt     time.Time `gorm:"not null" json:"start_at"`
	EndAt       time.Time `gorm:"not null" json:"end_at"`
	IsAllDay    bool      `gorm:"default:false" json:"is_all_day"`
	Color       *string   `gorm:"type:varchar(20)" json:"color,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Classroom Classroom       `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	Creator   *User           `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Attendees []EventAttendee `gorm:"foreignKey:EventID" json:"attendees,omitempty"`
}

func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// EventAttendee 일정 참여자
type EventAttendee struct {
	EventID   int64     `gorm:"primaryKey" json:"event_id"`
	UserID    int64     `gorm:"primaryKey" json:"user_id"`
	Status    string    `gorm:"type:varchar(20);default:'PENDING'" json:"status"` // PENDING, ACCEPTED, DECLINED
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Event CalendarEvent `gorm:"foreignKey:EventID" json:"event,omitempty"`
	User  User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (EventAttendee) TableName() string {
	return "event_attendees"
}

// ClassFile 학급 파일/폴더
type ClassFile struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID    int64     `gorm:"not null;index" json:"classroom_id"`
	UploaderID     *int64    `json:"uploader_id,omitempty"`
	ParentFolderID *int64    `json:"parent_folder_id,omitempty"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	Type           string    `gorm:"type:varchar(20);not null" json:"type"` // FILE, FOLDER
	FileURL        *string   `gorm:"type:text" json:"file_url,omitempty"`
	FileSize       *int64    `json:"file_size,omitempty"`
	MimeType       *string   `gorm:"type:varchar(100)" json:"mime_type,omitempty"`
	S3Key          *string   `gorm:"type:varchar(500)" json:"s3_key,omitempty"`
	PageCount      *int      `json:"page_count,omitempty"` // 프레젠테이션 문서의 페이지 수
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Classroom    Classroom   `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	Uploader     *User       `gorm:"foreignKey:UploaderID" json:"uploader,omitempty"`
	ParentFolder *ClassFile  `gorm:"foreignKey:ParentFolderID" json:"parent_folder,omitempty"`
	Children     []ClassFile `gorm:"foreignKey:ParentFolderID" json:"children,omitempty"`
}

func (ClassFile) TableName() string {
	return "class_files"
}

// CallSession 학급 통화 세션. 학급당 활성 세션은 논리적으로 최대 1개이며
// check-then-insert로만 보장된다 (경쟁 시 중복 생성 가능; 종료는 멱등).
type CallSession struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ClassroomID int64      `gorm:"not null;index" json:"classroom_id"`
	InitiatorID int64      `gorm:"not null" json:"initiator_id"`
	Active      bool       `gorm:"default:true;index" json:"active"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// Relations
	Classroom    Classroom         `gorm:"foreignKey:ClassroomID" json:"classroom,omitempty"`
	Initiator    User              `gorm:"foreignKey:InitiatorID" json:"initiator,omitempty"`
	Participants []CallParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

// CallParticipant 통화 참가자. (session_id, user_id)는 논리적으로 유일하며
// 재입장은 기존 행을 갱신하고 통화 중에는 삭제하지 않는다.
type CallParticipant struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID int64      `gorm:"not null;index" json:"session_id"`
	UserID    int64      `gorm:"not null;index" json:"user_id"`
	Active    bool       `gorm:"default:true" json:"active"`
	JoinedAt  time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`

	// Relations
	Session CallSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
	User    User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (CallParticipant) TableName() string {
	return "call_participants"
}

// Notification 알림
type Notification struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"not null;index" json:"user_id"`
	SenderID    *int64    `json:"sender_id,omitempty"`
	Type        string    `gorm:"type:varchar(30);not null" json:"type"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsRead      bool      `gorm:"default:false" json:"is_read"`
	RelatedType *string   `gorm:"type:varchar(30)" json:"related_type,omitempty"`
	RelatedID   *int64    `json:"related_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	User   User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}
