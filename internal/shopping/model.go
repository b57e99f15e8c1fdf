package shopping

import (
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxNameLength       = 190
	defaultListName     = "Nova Lista"
	defaultUnit         = "un"
	defaultQuantity     = 1
)

// List is a named shopping list. CreatorID holds administrative rights.
type List struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name      string    `gorm:"column:name;size:190;not null" json:"name"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index" json:"owner_id"`
	CreatorID string    `gorm:"column:creator_id;size:190;not null;default:'';index" json:"creator_id"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (List) TableName() string {
	return "lists"
}

// IsCreator reports whether the user holds administrative rights on the list.
func (l List) IsCreator(userID string) bool {
	return userID != "" && l.CreatorID == userID
}

// Share grants read/write access to a list for one user.
type Share struct {
	ID       string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ListID   string    `gorm:"column:list_id;size:190;not null;uniqueIndex:idx_list_shares_list_user,priority:1" json:"list_id"`
	UserID   string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_list_shares_list_user,priority:2;index" json:"user_id"`
	SharedAt time.Time `gorm:"column:shared_at;not null" json:"shared_at"`
}

// TableName provides the explicit table binding for GORM.
func (Share) TableName() string {
	return "list_shares"
}

// Product is a catalogue entry deduplicated by case-insensitive name.
type Product struct {
	ID      string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name    string `gorm:"column:name;size:190;not null" json:"name"`
	NameKey string `gorm:"column:name_key;size:190;not null;uniqueIndex" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// Item is a purchasable entry within one list.
type Item struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ListID    string    `gorm:"column:list_id;size:190;not null;index:idx_list_items_list,priority:1" json:"list_id"`
	ProductID string    `gorm:"column:product_id;size:190;not null;index" json:"product_id"`
	Quantity  float64   `gorm:"column:quantity;not null;default:1" json:"quantity"`
	Unit      string    `gorm:"column:unit;size:32;not null;default:'un'" json:"unit"`
	Brand     *string   `gorm:"column:brand;size:190" json:"brand,omitempty"`
	Price     *float64  `gorm:"column:price" json:"price,omitempty"`
	Checked   bool      `gorm:"column:checked;not null;default:false;index:idx_list_items_list,priority:2" json:"checked"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	Product   Product   `gorm:"foreignKey:ProductID;references:ID" json:"product"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "list_items"
}

// BrandName returns the brand or an empty string.
func (i Item) BrandName() string {
	if i.Brand == nil {
		return ""
	}
	return *i.Brand
}

// PriceObservation is an append-only price fact for a product and brand.
type PriceObservation struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProductID  string    `gorm:"column:product_id;size:190;not null;index:idx_price_observations_lookup,priority:1" json:"product_id"`
	Brand      string    `gorm:"column:brand;size:190;not null;index:idx_price_observations_lookup,priority:2" json:"brand"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index:idx_price_observations_lookup,priority:3" json:"user_id"`
	Price      float64   `gorm:"column:price;not null" json:"price"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index:idx_price_observations_lookup,priority:4" json:"recorded_at"`
}

// TableName provides the explicit table binding for GORM.
func (PriceObservation) TableName() string {
	return "price_observations"
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&List{}, &Share{}, &Product{}, &Item{}, &PriceObservation{}}
}

// AddItemRequest describes an item being added to a list.
type AddItemRequest struct {
	ListID      string
	UserID      string
	ProductName string
	Quantity    float64
	Unit        string
	Brand       string
	Price       *float64
}

func productNameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
