// 로컬 개발용 시드 데이터 생성 도구. 교사 1명과 학생 2명, 학급 하나를
// 만들어 두 계정으로 바로 로그인해 볼 수 있게 한다. 이미 있는 계정은
// 건너뛴다.
package main

import (
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"classhub-backend/internal/database"
	"classhub-backend/internal/model"
)

type seedUser struct {
	email    string
	nickname string
	role     string
}

var seedUsers = []seedUser{
	{"teacher@classhub.local", "김선생", model.RoleTeacher},
	{"student1@classhub.local", "박학생", model.RoleStudent},
	{"student2@classhub.local", "이학생", model.RoleStudent},
}

const seedPassword = "classhub-dev"

func main() {
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	users := make([]*model.User, 0, len(seedUsers))
	for _, su := range seedUsers {
		var user model.User
		err := db.Where("email = ?", su.email).First(&user).Error
		if err == nil {
			log.Printf("↩️  %s already exists (id=%d)", su.email, user.ID)
			users = append(users, &user)
			continue
		}
		if err != gorm.ErrRecordNotFound {
			log.Fatalf("Failed to look up %s: %v", su.email, err)
		}

		user = model.User{
			Email:        su.email,
			PasswordHash: string(hash),
			Nickname:     su.nickname,
		}
		if err := db.Create(&user).Error; err != nil {
			log.Fatalf("Failed to create %s: %v", su.email, err)
		}
		log.Printf("✅ Created %s (id=%d)", su.email, user.ID)
		users = append(users, &user)
	}

	teacher := users[0]

	var classroom model.Classroom
	err = db.Where("owner_id = ? AND name = ?", teacher.ID, "데모 학급").First(&classroom).Error
	if err == gorm.ErrRecordNotFound {
		err = db.Transaction(func(tx *gorm.DB) error {
			classroom = model.Classroom{
				Name:       "데모 학급",
				OwnerID:    teacher.ID,
				InviteCode: "DEMO0001",
			}
			if err := tx.Create(&classroom).Error; err != nil {
				return err
			}

			for i, u := range users {
				member := model.ClassroomMember{
					ClassroomID: classroom.ID,
					UserID:      u.ID,
					Role:        seedUsers[i].role,
					Status:      model.MemberActive,
				}
				if err := tx.Create(&member).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Fatalf("Failed to create classroom: %v", err)
		}
		log.Printf("✅ Created classroom %d (invite code: %s)", classroom.ID, classroom.InviteCode)
	} else if err != nil {
		log.Fatalf("Failed to look up classroom: %v", err)
	} else {
		log.Printf("↩️  Classroom already exists (id=%d, invite code: %s)", classroom.ID, classroom.InviteCode)
	}

	log.Printf("🔑 All seed accounts use password: %s", seedPassword)
}
