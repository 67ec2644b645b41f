package regulation

import (
	"time"

	"charge-controller/internal/models"
)

// RegulationInput contient les données d'entrée pour l'algorithme
type RegulationInput struct {
	AverageGridPower float64              // Puissance réseau moyenne sur la fenêtre (W), >0 = import
	BatteryPower     float64              // Puissance batterie signée (W), >0 = en charge
	StateOfCharge    float64              // Etat de charge batterie (%)
	Voltage          float64              // Tension secteur (V), <=0 = inconnue
	Status           models.ChargerStatus // Etat du connecteur
	CurrentImport    float64              // Courant mesuré par la borne (A)
	LastCurrent      float64              // Dernière consigne appliquée (A)
	NetMaxPower      float64              // Budget d'import réseau (W), 0 = priorité batterie
	StaticPower      float64              // Consigne de puissance en mode statique (W)
	DynamicCharging  bool                 // Mode dynamique ou statique
	Timestamp        time.Time            // Timestamp de la mesure
}

// VoltageKnown indique si un calcul de courant est possible
func (in RegulationInput) VoltageKnown() bool {
	return in.Voltage > 0
}

// RegulationOutput contient le résultat de l'algorithme
type RegulationOutput struct {
	TargetCurrent float64                // Courant cible calculé (A), avant bornage
	Strategy      Strategy               // Stratégie utilisée
	Syncing       bool                   // Borne pas encore alignée sur la consigne précédente
	Reason        string                 // Raison de la décision
	DebugInfo     map[string]interface{} // Infos de debug
}

// RegulationService interface pour les algorithmes de calcul de consigne
type RegulationService interface {
	// Calculate calcule le courant cible basé sur l'entrée
	Calculate(input RegulationInput) RegulationOutput

	// Reset remet à zéro les compteurs internes
	Reset()

	// GetName retourne le nom de l'algorithme
	GetName() string

	// GetStatus retourne l'état interne pour monitoring
	GetStatus() map[string]interface{}
}
