package auth

import (
	"gorm.io/gorm"

	"classhub-backend/internal/model"
)

// IsMember 학급 활성 멤버 여부 확인
func IsMember(db *gorm.DB, classroomID, userID int64) (bool, error) {
	var count int64
	err := db.Model(&model.ClassroomMember{}).
		Where("classroom_id = ? AND user_id = ? AND status = ?", classroomID, userID, model.MemberActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsTeacher 교사 권한 확인 - 소유자는 역할과 무관하게 항상 허용
func IsTeacher(db *gorm.DB, classroomID, userID int64) (bool, error) {
	var ownerID int64
	if err := db.Model(&model.Classroom{}).Where("id = ?", classroomID).Select("owner_id").Scan(&ownerID).Error; err != nil {
		return false, err
	}
	if ownerID == userID {
		return true, nil
	}

	var count int64
	err := db.Model(&model.ClassroomMember{}).
		Where("classroom_id = ? AND user_id = ? AND role = ? AND status = ?",
			classroomID, userID, model.RoleTeacher, model.MemberActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
