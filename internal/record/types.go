package record

// Faculty types and statuses as stored by the backend.
const (
	FacultyInternal = "internal"
	FacultyExternal = "external"
	FacultyContract = "contract"

	StatusServing = "serving"
	StatusRetired = "retired"
)

// Asset types as stored by the backend.
const (
	AssetPermanent  = "Permanent"
	AssetConsumable = "Consumable"
)

// Faculty is a faculty profile.
type Faculty struct {
	ID               string   `json:"_id,omitempty"`
	Name             string   `json:"name"`
	FacultyType      string   `json:"facultyType,omitempty"`
	YearOfAllotment  string   `json:"yearOfAllotment,omitempty"`
	Email            string   `json:"email,omitempty"`
	Status           string   `json:"status,omitempty"`
	ModulesHandled   []string `json:"modulesHandled,omitempty"`
	MajorDomains     []string `json:"majorDomains,omitempty"`
	MinorDomains     []string `json:"minorDomains,omitempty"`
	AreasOfExpertise string   `json:"areasOfExpertise,omitempty"`
	DomainKnowledge  string   `json:"domainKnowledge,omitempty"`
	Institution      string   `json:"institution,omitempty"`
	MobileNumber     string   `json:"mobileNumber,omitempty"`
	Photograph       string   `json:"photograph,omitempty"`
	Verified         bool     `json:"verified"`
}

// Item is one line of a purchase entry.
type Item struct {
	ItemName          string   `json:"itemName"`
	SubCategory       string   `json:"subCategory,omitempty"`
	ItemDescription   string   `json:"itemDescription,omitempty"`
	QuantityReceived  float64  `json:"quantityReceived,omitempty"`
	UnitPrice         float64  `json:"unitPrice,omitempty"`
	TotalPrice        float64  `json:"totalPrice,omitempty"`
	ItemIDs           []string `json:"itemIds,omitempty"`
	AMCFromDate       string   `json:"amcFromDate,omitempty"`
	AMCToDate         string   `json:"amcToDate,omitempty"`
	AMCCost           float64  `json:"amcCost,omitempty"`
	WarrantyNumber    string   `json:"warrantyNumber,omitempty"`
	WarrantyValidUpto string   `json:"warrantyValidUpto,omitempty"`
	ItemPhoto         string   `json:"itemPhoto,omitempty"`
}

// Asset is a permanent or consumable purchase entry with its items.
type Asset struct {
	ID            string `json:"_id,omitempty"`
	AssetType     string `json:"assetType"`
	AssetCategory string `json:"assetCategory,omitempty"`
	EntryDate     string `json:"entryDate,omitempty"`
	PurchaseDate  string `json:"purchaseDate,omitempty"`
	SupplierName  string `json:"supplierName,omitempty"`
	BillNo        string `json:"billNo,omitempty"`
	ReceivedBy    string `json:"receivedBy,omitempty"`
	Location      string `json:"location,omitempty"`
	Status        string `json:"status,omitempty"`
	Items         []Item `json:"items,omitempty"`
}

// ReturnedAsset is an asset returned to store and awaiting a condition
// decision. Permanent returns carry ItemID, consumable ones ReturnQuantity.
type ReturnedAsset struct {
	ID              string  `json:"_id,omitempty"`
	AssetType       string  `json:"assetType"`
	AssetCategory   string  `json:"assetCategory,omitempty"`
	ItemName        string  `json:"itemName,omitempty"`
	SubCategory     string  `json:"subCategory,omitempty"`
	ItemDescription string  `json:"itemDescription,omitempty"`
	Location        string  `json:"location,omitempty"`
	Condition       string  `json:"condition,omitempty"`
	ItemID          string  `json:"itemId,omitempty"`
	ReturnQuantity  float64 `json:"returnQuantity,omitempty"`
	Approved        string  `json:"approved,omitempty"`
}
