package domain

import "time"

// Shared nutrition types consumed by the mobile clients and the sync
// endpoints. These are passive data shapes; there is no invariant logic here
// beyond what the tags express.

// MealType classifies a logged meal.
type MealType string

const (
	MealTypeBreakfast MealType = "breakfast"
	MealTypeLunch     MealType = "lunch"
	MealTypeDinner    MealType = "dinner"
	MealTypeSnack     MealType = "snack"
)

// ActivityLevel describes a user's habitual activity.
type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

// Goal is the user's weight goal.
type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

// Units selects the measurement system shown to the user.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// UserProfile holds optional body and preference data for an account.
type UserProfile struct {
	UserID        string        `bson:"user_id" json:"userId"`
	Age           int           `bson:"age,omitempty" json:"age,omitempty"`
	WeightKg      float64       `bson:"weight_kg,omitempty" json:"weight,omitempty"`
	HeightCm      float64       `bson:"height_cm,omitempty" json:"height,omitempty"`
	Gender        string        `bson:"gender,omitempty" json:"gender,omitempty"`
	ActivityLevel ActivityLevel `bson:"activity_level,omitempty" json:"activityLevel,omitempty"`
	Goal          Goal          `bson:"goal,omitempty" json:"goal,omitempty"`
	Units         Units         `bson:"units,omitempty" json:"units,omitempty"`
}

// UserGoals holds the daily macro targets for an account.
type UserGoals struct {
	UserID        string  `bson:"user_id" json:"userId"`
	DailyCalories float64 `bson:"daily_calories" json:"dailyCalories"`
	ProteinGrams  float64 `bson:"protein_grams,omitempty" json:"proteinGrams,omitempty"`
	CarbsGrams    float64 `bson:"carbs_grams,omitempty" json:"carbsGrams,omitempty"`
	FatGrams      float64 `bson:"fat_grams,omitempty" json:"fatGrams,omitempty"`
}

// NutritionalData is the per-serving nutrition breakdown of a food.
type NutritionalData struct {
	Calories    float64 `bson:"calories" json:"calories"`
	Protein     float64 `bson:"protein" json:"protein"`
	Carbs       float64 `bson:"carbs" json:"carbs"`
	Fat         float64 `bson:"fat" json:"fat"`
	Fiber       float64 `bson:"fiber,omitempty" json:"fiber,omitempty"`
	Sugar       float64 `bson:"sugar,omitempty" json:"sugar,omitempty"`
	SodiumMg    float64 `bson:"sodium_mg,omitempty" json:"sodium,omitempty"`
	ServingSize string  `bson:"serving_size" json:"servingSize"`
	ServingUnit string  `bson:"serving_unit" json:"servingUnit"`
}

// FoodItem is a food definition, either from the shared catalog or a
// user-created custom food.
type FoodItem struct {
	ID        string          `bson:"_id,omitempty" json:"id"`
	Name      string          `bson:"name" json:"name"`
	BrandName string          `bson:"brand_name,omitempty" json:"brandName,omitempty"`
	Barcode   string          `bson:"barcode,omitempty" json:"barcode,omitempty"`
	Nutrition NutritionalData `bson:"nutrition" json:"nutrition"`
	PhotoURL  string          `bson:"photo_url,omitempty" json:"photoUrl,omitempty"`
	IsCustom  bool            `bson:"is_custom" json:"isCustom"`
	CreatedAt time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `bson:"updated_at" json:"updatedAt"`
}

// MealFoodItem is one food entry inside a meal, with the nutrition snapshot
// taken at logging time so later catalog edits do not rewrite history.
type MealFoodItem struct {
	FoodID    string          `bson:"food_id" json:"foodId"`
	FoodName  string          `bson:"food_name" json:"foodName"`
	Servings  float64         `bson:"servings" json:"servings"`
	Nutrition NutritionalData `bson:"nutrition" json:"nutrition"`
}

// Meal is a logged meal with its computed totals.
type Meal struct {
	ID             string          `bson:"_id,omitempty" json:"id"`
	UserID         string          `bson:"user_id" json:"userId"`
	Type           MealType        `bson:"type" json:"type"`
	Foods          []MealFoodItem  `bson:"foods" json:"foods"`
	TotalNutrition NutritionalData `bson:"total_nutrition" json:"totalNutrition"`
	Timestamp      time.Time       `bson:"timestamp" json:"timestamp"`
	Notes          string          `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `bson:"updated_at" json:"updatedAt"`
}

// SyncChangeSet carries client-side changes for one record type.
type SyncChangeSet[T any] struct {
	Created []T      `json:"created"`
	Updated []T      `json:"updated"`
	Deleted []string `json:"deleted"`
}

// SyncPayload is what an offline client uploads to reconcile local state.
type SyncPayload struct {
	Meals             SyncChangeSet[Meal]     `json:"meals"`
	Foods             SyncChangeSet[FoodItem] `json:"foods"`
	LastSyncTimestamp time.Time               `json:"lastSyncTimestamp"`
}

// SyncResponse is the server's view returned after reconciliation.
type SyncResponse struct {
	Meals           []Meal     `json:"meals"`
	Foods           []FoodItem `json:"foods"`
	ServerTimestamp time.Time  `json:"serverTimestamp"`
}
