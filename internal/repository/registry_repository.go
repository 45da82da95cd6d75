package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

var ErrNotFound = errors.New("not found")

// RegistryRepository is the read-only vehicle registry: plate number to
// owner record. The pipeline never writes to these tables.
type RegistryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

type ownerRow struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"not null"`
	Phone     *string
	Address   *string
	CreatedAt time.Time
}

func (ownerRow) TableName() string { return "owners" }

type vehicleRow struct {
	PlateNumber string `gorm:"primaryKey"`
	OwnerID     int64  `gorm:"not null"`
	VehicleType *string
	CreatedAt   time.Time
}

func (vehicleRow) TableName() string { return "vehicles" }

// OwnerByPlate resolves a normalized plate to its vehicle and owner.
// Returns ErrNotFound when the plate has no registry entry.
func (r *RegistryRepository) OwnerByPlate(ctx context.Context, plateNumber string) (*violation.Owner, *violation.Vehicle, error) {
	var row struct {
		PlateNumber string
		OwnerID     int64
		VehicleType *string
		Name        string
		Email       string
		Phone       *string
		Address     *string
	}

	err := r.db.WithContext(ctx).
		Table("vehicles").
		Select("vehicles.plate_number, vehicles.owner_id, vehicles.vehicle_type, owners.name, owners.email, owners.phone, owners.address").
		Joins("JOIN owners ON vehicles.owner_id = owners.id").
		Where("vehicles.plate_number = ?", plateNumber).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	owner := &violation.Owner{
		OwnerID: row.OwnerID,
		Name:    row.Name,
		Email:   row.Email,
	}
	if row.Phone != nil {
		owner.Phone = *row.Phone
	}
	if row.Address != nil {
		owner.Address = *row.Address
	}

	vehicle := &violation.Vehicle{
		PlateNumber: row.PlateNumber,
		OwnerID:     row.OwnerID,
	}
	if row.VehicleType != nil {
		vehicle.VehicleType = *row.VehicleType
	}
	return owner, vehicle, nil
}
