package service

import (
	"classhub-backend/internal/model"

	"gorm.io/gorm"
)

// MemberService 멤버십/권한 관련 비즈니스 로직
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// IsClassroomMember 학급 멤버 여부 확인
func (s *MemberService) IsClassroomMember(classroomID, userID int64) bool {
	var count int64
	s.db.Model(&model.ClassroomMember{}).
		Where("classroom_id = ? AND user_id = ? AND status = ?", classroomID, userID, model.MemberActive).
		Count(&count)
	return count > 0
}

// IsClassroomOwner 학급 소유자 여부 확인
func (s *MemberService) IsClassroomOwner(classroomID, userID int64) bool {
	var ownerID int64
	s.db.Model(&model.Classroom{}).Where("id = ?", classroomID).Select("owner_id").Scan(&ownerID)
	return ownerID == userID
}

// IsClassroomMemberOrOwner 멤버 또는 소유자 여부 확인
func (s *MemberService) IsClassroomMemberOrOwner(classroomID, userID int64) bool {
	return s.IsClassroomMember(classroomID, userID) || s.IsClassroomOwner(classroomID, userID)
}

// IsClassroomTeacher 교사 권한 확인 (소유자 포함)
func (s *MemberService) IsClassroomTeacher(classroomID, userID int64) bool {
	if s.IsClassroomOwner(classroomID, userID) {
		return true
	}

	var count int64
	s.db.Model(&model.ClassroomMember{}).
		Where("classroom_id = ? AND user_id = ? AND role = ? AND status = ?",
			classroomID, userID, model.RoleTeacher, model.MemberActive).
		Count(&count)
	return count > 0
}

// GetMemberRole 멤버 역할 조회
func (s *MemberService) GetMemberRole(classroomID, userID int64) (string, error) {
	var member model.ClassroomMember
	err := s.db.
		Where("classroom_id = ? AND user_id = ? AND status = ?", classroomID, userID, model.MemberActive).
		First(&member).Error
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

// ActiveMemberIDs 학급 활성 멤버 ID 목록 (알림 발송용)
func (s *MemberService) ActiveMemberIDs(classroomID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.ClassroomMember{}).
		Where("classroom_id = ? AND status = ?", classroomID, model.MemberActive).
		Pluck("user_id", &ids).Error
	return ids, err
}
