package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"classhub-backend/internal/model"
)

// ErrNotInSession 세션에 참여한 적 없는 사용자의 퇴장 요청
var ErrNotInSession = errors.New("user is not a participant of this session")

// CallService 통화 세션 라이프사이클 비즈니스 로직.
// 입장과 퇴장은 모두 멱등: 같은 요청을 반복해도 상태가 변하지 않는다.
type CallService struct {
	db *gorm.DB
}

// NewCallService CallService 생성
func NewCallService(db *gorm.DB) *CallService {
	return &CallService{db: db}
}

// JoinResult StartOrJoin 결과
type JoinResult struct {
	Session        model.CallSession
	Participant    model.CallParticipant
	CreatedSession bool // 이 호출로 세션이 새로 만들어졌는지
}

// StartOrJoin 학급의 활성 세션에 입장한다. 활성 세션이 없으면 생성한다.
// 이미 참여 중이면 기존 참가자 행을 그대로 반환한다 (rejoin 포함).
func (s *CallService) StartOrJoin(classroomID, userID int64) (*JoinResult, error) {
	var result JoinResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var session model.CallSession
		err := tx.Where("classroom_id = ? AND active = ?", classroomID, true).
			Order("id ASC").
			First(&session).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			session = model.CallSession{
				ClassroomID: classroomID,
				InitiatorID: userID,
				Active:      true,
			}
			if err := tx.Create(&session).Error; err != nil {
				return err
			}
			result.CreatedSession = true
		case err != nil:
			return err
		}

		var participant model.CallParticipant
		err = tx.Where("session_id = ? AND user_id = ?", session.ID, userID).
			First(&participant).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			participant = model.CallParticipant{
				SessionID: session.ID,
				UserID:    userID,
				Active:    true,
			}
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			// rejoin: 기존 행 재활성화
			if !participant.Active {
				participant.Active = true
				participant.LeftAt = nil
				participant.JoinedAt = time.Now()
				if err := tx.Save(&participant).Error; err != nil {
					return err
				}
			}
		}

		result.Session = session
		result.Participant = participant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// LeaveResult Leave 결과
type LeaveResult struct {
	SessionEnded bool // 이 퇴장으로 세션이 종료되었는지
}

// Leave 세션에서 퇴장한다. 이미 퇴장한 참가자의 중복 호출은 아무것도
// 바꾸지 않고 성공한다. 마지막 활성 참가자가 나가면 세션을 종료한다.
func (s *CallService) Leave(sessionID, userID int64) (*LeaveResult, error) {
	var result LeaveResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var participant model.CallParticipant
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).
			First(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotInSession
		}
		if err != nil {
			return err
		}

		if participant.Active {
			now := time.Now()
			participant.Active = false
			participant.LeftAt = &now
			if err := tx.Save(&participant).Error; err != nil {
				return err
			}
		}

		var remaining int64
		if err := tx.Model(&model.CallParticipant{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Count(&remaining).Error; err != nil {
			return err
		}

		if remaining == 0 {
			now := time.Now()
			res := tx.Model(&model.CallSession{}).
				Where("id = ? AND active = ?", sessionID, true).
				Updates(map[string]interface{}{"active": false, "ended_at": now})
			if res.Error != nil {
				return res.Error
			}
			// 이미 종료된 세션이면 RowsAffected 0; 중복 종료도 성공
			result.SessionEnded = res.RowsAffected > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetActiveSession 학급의 활성 세션 조회 (없으면 nil)
func (s *CallService) GetActiveSession(classroomID int64) (*model.CallSession, error) {
	var session model.CallSession
	err := s.db.Preload("Participants", "active = ?", true).
		Where("classroom_id = ? AND active = ?", classroomID, true).
		Order("id ASC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession 세션 단건 조회
func (s *CallService) GetSession(sessionID int64) (*model.CallSession, error) {
	var session model.CallSession
	err := s.db.Preload("Participants", "active = ?", true).
		First(&session, sessionID).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveParticipants 세션의 활성 참가자 목록
func (s *CallService) ActiveParticipants(sessionID int64) ([]model.CallParticipant, error) {
	var participants []model.CallParticipant
	err := s.db.Preload("User").
		Where("session_id = ? AND active = ?", sessionID, true).
		Order("joined_at ASC").
		Find(&participants).Error
	return participants, err
}
