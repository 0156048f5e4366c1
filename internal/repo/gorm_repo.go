package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

type roomRow struct {
	ID        string    `gorm:"primarykey;size:16"`
	Name      string    `gorm:"size:100;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (roomRow) TableName() string { return "rooms" }

// user_id のユニーク制約で「1ユーザー1メンバー」を保証する
type memberRow struct {
	ID     string `gorm:"primarykey;size:26"`
	RoomID string `gorm:"size:16;not null;index"`
	UserID string `gorm:"size:64;not null;uniqueIndex"`
	Role   string `gorm:"size:16;not null"`
}

func (memberRow) TableName() string { return "members" }

type messageRow struct {
	ID       string    `gorm:"primarykey;size:26"`
	RoomID   string    `gorm:"size:16;not null;index:idx_messages_room_sent"`
	MemberID string    `gorm:"size:26;not null"`
	Content  string    `gorm:"size:500;not null"`
	SentAt   time.Time `gorm:"not null;index:idx_messages_room_sent"`
}

func (messageRow) TableName() string { return "messages" }

type userRow struct {
	ID          string `gorm:"primarykey;size:64"`
	DisplayName string `gorm:"size:100"`
}

func (userRow) TableName() string { return "users" }

func (m memberRow) toModel() models.Member {
	return models.Member{MemberId: m.ID, RoomId: m.RoomID, UserId: m.UserID, Role: models.Role(m.Role)}
}

func (m messageRow) toModel() models.Message {
	return models.Message{MessageId: m.ID, RoomId: m.RoomID, MemberId: m.MemberID, Content: m.Content, SentAt: m.SentAt.UTC()}
}

// OpenSQLite はSQLiteを開いてスキーマをマイグレーションします
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLiteは書き込みが直列なので接続は1本にする
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&roomRow{}, &memberRow{}, &messageRow{}, &userRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

// GormRoomRepo はgormによるStore実装です
type GormRoomRepo struct {
	db *gorm.DB
}

var _ Store = (*GormRoomRepo)(nil)

func NewGormRoomRepo(db *gorm.DB) *GormRoomRepo {
	return &GormRoomRepo{db: db}
}

func (r *GormRoomRepo) CreateRoom(ctx context.Context, name, adminUserId string) (models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&memberRow{}).Where("user_id = ?", adminUserId).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyMember
		}

		roomId, err := newUniqueRoomID(ctx, func(_ context.Context, id string) (bool, error) {
			var c int64
			err := tx.Model(&roomRow{}).Where("id = ?", id).Count(&c).Error
			return c > 0, err
		})
		if err != nil {
			return err
		}

		row := roomRow{ID: roomId, Name: name, CreatedAt: time.Now().UTC()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		admin := memberRow{ID: idgen.NewULID(), RoomID: roomId, UserID: adminUserId, Role: string(models.RoleAdmin)}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("failed to create admin member: %w", err)
		}
		room = models.Room{RoomId: row.ID, Name: row.Name, CreatedAt: row.CreatedAt, Members: []models.Member{admin.toModel()}}
		return nil
	})
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (r *GormRoomRepo) GetRoomById(ctx context.Context, roomId string) (models.Room, error) {
	var row roomRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", roomId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Room{}, ErrNotFound
		}
		return models.Room{}, fmt.Errorf("failed to find room: %w", err)
	}
	members, err := r.GetMembersByRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	return models.Room{RoomId: row.ID, Name: row.Name, CreatedAt: row.CreatedAt.UTC(), Members: members}, nil
}

func (r *GormRoomRepo) GetMembersByRoom(ctx context.Context, roomId string) ([]models.Member, error) {
	var rows []memberRow
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomId).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find members: %w", err)
	}
	res := make([]models.Member, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	sortMembers(res)
	return res, nil
}

func (r *GormRoomRepo) GetMemberByUser(ctx context.Context, userId string) (models.Member, error) {
	var row memberRow
	if err := r.db.WithContext(ctx).First(&row, "user_id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Member{}, ErrNotFound
		}
		return models.Member{}, fmt.Errorf("failed to find member: %w", err)
	}
	return row.toModel(), nil
}

func (r *GormRoomRepo) AddMember(ctx context.Context, roomId, userId string, role models.Role) (models.Member, error) {
	row := memberRow{ID: idgen.NewULID(), RoomID: roomId, UserID: userId, Role: string(role)}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&roomRow{}).Where("id = ?", roomId).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&memberRow{}).Where("user_id = ?", userId).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyMember
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.Member{}, err
	}
	return row.toModel(), nil
}

func (r *GormRoomRepo) RemoveMember(ctx context.Context, roomId, userId string) (bool, error) {
	result := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomId, userId).Delete(&memberRow{})
	if err := result.Error; err != nil {
		return false, fmt.Errorf("failed to delete member: %w", err)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRoomRepo) DeleteRoom(ctx context.Context, roomId string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomId).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomId).Delete(&memberRow{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&roomRow{}, "id = ?", roomId)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete room: %w", err)
	}
	return deleted, nil
}

func (r *GormRoomRepo) AddMessage(ctx context.Context, roomId, memberId, content string, sentAt time.Time) (models.Message, error) {
	row := messageRow{ID: idgen.NewULID(), RoomID: roomId, MemberID: memberId, Content: content, SentAt: sentAt.UTC()}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&roomRow{}).Where("id = ?", roomId).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func (r *GormRoomRepo) GetMessagesByRoom(ctx context.Context, roomId string) ([]models.Message, error) {
	var rows []messageRow
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomId).Order("sent_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	res := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

func (r *GormRoomRepo) SaveUser(ctx context.Context, user models.User) error {
	row := userRow{ID: user.UserId, DisplayName: user.DisplayName}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *GormRoomRepo) GetUser(ctx context.Context, userId string) (models.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return models.User{UserId: row.ID, DisplayName: row.DisplayName}, nil
}
