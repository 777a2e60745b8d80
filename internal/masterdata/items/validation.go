package items

import (
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian/internal/masterdata/shared"
)

func (s *Service) validate(item Item) error {
	if strings.TrimSpace(item.Code) == "" {
		return fmt.Errorf("%w: item code", shared.ErrRequiredField)
	}
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("%w: item name", shared.ErrRequiredField)
	}
	if strings.TrimSpace(item.StandardUnit) == "" {
		return fmt.Errorf("%w: standard unit", shared.ErrRequiredField)
	}
	if item.HasWholesaleUnit() && item.WholesaleFactor.Sign() <= 0 {
		return ErrInvalidConversionFactor
	}
	return nil
}
